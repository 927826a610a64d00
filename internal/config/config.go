// Package config provides configuration management for fathom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddr is the default bind address for the worker HTTP API.
	DefaultListenAddr = ":8730"

	// DefaultSimilarityThreshold is the cosine similarity an eligible
	// conversation must reach against a group's representative fingerprint
	// to join that group.
	DefaultSimilarityThreshold = 0.85

	// DefaultBatchSize bounds how many conversations one batch run processes.
	DefaultBatchSize = 50

	// DefaultBatchInterval is the period between scheduled batch runs.
	DefaultBatchInterval = 5 * time.Minute
)

// Completion provider names.
const (
	CompletionProviderOpenAI    = "openai"
	CompletionProviderAnthropic = "anthropic"
)

// Config holds the application configuration.
type Config struct {
	// Storage settings
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int    `yaml:"max_conns"`

	// Optional Redis URL for publishing issue group change events.
	RedisURL string `yaml:"redis_url"`

	// Worker settings
	ListenAddr string `yaml:"listen_addr"`

	// Clustering settings
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	BatchSize           int           `yaml:"batch_size"`
	BatchInterval       time.Duration `yaml:"batch_interval"`

	// Text generation settings
	CompletionProvider string `yaml:"completion_provider"` // "openai" or "anthropic"
	CompletionBaseURL  string `yaml:"completion_base_url"`
	CompletionAPIKey   string `yaml:"completion_api_key"`
	CompletionModel    string `yaml:"completion_model"`
	// ContextTokens is the completion model's context window; prompts are
	// pre-checked against it before fingerprinting.
	ContextTokens int `yaml:"context_tokens"`

	// Embedding settings
	EmbeddingBaseURL    string `yaml:"embedding_base_url"`
	EmbeddingAPIKey     string `yaml:"embedding_api_key"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		MaxConns:            10,
		ListenAddr:          DefaultListenAddr,
		SimilarityThreshold: DefaultSimilarityThreshold,
		BatchSize:           DefaultBatchSize,
		BatchInterval:       DefaultBatchInterval,
		CompletionProvider:  CompletionProviderOpenAI,
		CompletionModel:     "gpt-4o-mini",
		ContextTokens:       128000,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
	}
}

// Load builds the configuration from defaults, an optional YAML settings
// file (FATHOM_CONFIG), and environment variable overrides, then validates
// it. An invalid similarity threshold or batch size is a fatal startup
// error and is returned here rather than deferred to the first batch.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("FATHOM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides config fields from FATHOM_* environment variables.
// Environment always wins over the settings file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("FATHOM_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("FATHOM_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("FATHOM_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("FATHOM_SIMILARITY_THRESHOLD"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FATHOM_SIMILARITY_THRESHOLD %q: %w", v, err)
		}
		c.SimilarityThreshold = parsed
	}
	if v := os.Getenv("FATHOM_BATCH_SIZE"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FATHOM_BATCH_SIZE %q: %w", v, err)
		}
		c.BatchSize = parsed
	}
	if v := os.Getenv("FATHOM_BATCH_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FATHOM_BATCH_INTERVAL %q: %w", v, err)
		}
		c.BatchInterval = parsed
	}
	if v := os.Getenv("FATHOM_COMPLETION_PROVIDER"); v != "" {
		c.CompletionProvider = v
	}
	if v := os.Getenv("FATHOM_COMPLETION_BASE_URL"); v != "" {
		c.CompletionBaseURL = v
	}
	if v := os.Getenv("FATHOM_COMPLETION_API_KEY"); v != "" {
		c.CompletionAPIKey = v
	}
	if v := os.Getenv("FATHOM_COMPLETION_MODEL"); v != "" {
		c.CompletionModel = v
	}
	if v := os.Getenv("FATHOM_CONTEXT_TOKENS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FATHOM_CONTEXT_TOKENS %q: %w", v, err)
		}
		c.ContextTokens = parsed
	}
	if v := os.Getenv("FATHOM_EMBEDDING_BASE_URL"); v != "" {
		c.EmbeddingBaseURL = v
	}
	if v := os.Getenv("FATHOM_EMBEDDING_API_KEY"); v != "" {
		c.EmbeddingAPIKey = v
	}
	if v := os.Getenv("FATHOM_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("FATHOM_EMBEDDING_DIMENSIONS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FATHOM_EMBEDDING_DIMENSIONS %q: %w", v, err)
		}
		c.EmbeddingDimensions = parsed
	}
	return nil
}

// Validate checks the configuration invariants the engine depends on.
func (c *Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("invalid similarity threshold %v: must be between 0 and 1", c.SimilarityThreshold)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("invalid batch size %d: must be a positive integer", c.BatchSize)
	}
	if c.BatchInterval <= 0 {
		return fmt.Errorf("invalid batch interval %v: must be positive", c.BatchInterval)
	}
	if c.ContextTokens < 1 {
		return fmt.Errorf("invalid context tokens %d: must be a positive integer", c.ContextTokens)
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("invalid embedding dimensions %d: must be a positive integer", c.EmbeddingDimensions)
	}
	switch c.CompletionProvider {
	case CompletionProviderOpenAI, CompletionProviderAnthropic:
	default:
		return fmt.Errorf("unknown completion provider %q", c.CompletionProvider)
	}
	return nil
}
