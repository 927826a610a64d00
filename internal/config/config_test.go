package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, DefaultSimilarityThreshold, cfg.SimilarityThreshold, 0.0001)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, CompletionProviderOpenAI, cfg.CompletionProvider)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FATHOM_SIMILARITY_THRESHOLD", "0.7")
	t.Setenv("FATHOM_BATCH_SIZE", "10")
	t.Setenv("FATHOM_BATCH_INTERVAL", "30s")
	t.Setenv("FATHOM_COMPLETION_PROVIDER", "anthropic")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.7, cfg.SimilarityThreshold, 0.0001)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.BatchInterval)
	assert.Equal(t, CompletionProviderAnthropic, cfg.CompletionProvider)
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fathom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 0.9\nbatch_size: 25\n"), 0600))
	t.Setenv("FATHOM_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.9, cfg.SimilarityThreshold, 0.0001)
	assert.Equal(t, 25, cfg.BatchSize)
}

func TestEnvWinsOverSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fathom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 25\n"), 0600))
	t.Setenv("FATHOM_CONFIG", path)
	t.Setenv("FATHOM_BATCH_SIZE", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.BatchSize)
}

func TestLoadFailsFast(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "threshold above one", key: "FATHOM_SIMILARITY_THRESHOLD", value: "1.5"},
		{name: "threshold below zero", key: "FATHOM_SIMILARITY_THRESHOLD", value: "-0.1"},
		{name: "threshold not a number", key: "FATHOM_SIMILARITY_THRESHOLD", value: "high"},
		{name: "batch size zero", key: "FATHOM_BATCH_SIZE", value: "0"},
		{name: "batch size negative", key: "FATHOM_BATCH_SIZE", value: "-5"},
		{name: "batch size not a number", key: "FATHOM_BATCH_SIZE", value: "many"},
		{name: "unknown completion provider", key: "FATHOM_COMPLETION_PROVIDER", value: "oracle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateBoundaryThresholds(t *testing.T) {
	cfg := Default()

	cfg.SimilarityThreshold = 0
	assert.NoError(t, cfg.Validate())

	cfg.SimilarityThreshold = 1
	assert.NoError(t, cfg.Validate())
}
