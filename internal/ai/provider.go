// Package ai provides text generation with swappable providers.
package ai

import (
	"context"
	"fmt"
	"sync"
)

// Completer represents a text-generation capability with a separate
// system/instruction channel.
type Completer interface {
	// Complete generates text for the given system instructions and prompt.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// Model returns the model identifier in use.
	Model() string

	// ContextTokens returns the model's context window size, used by callers
	// to pre-check prompt length before sending.
	ContextTokens() int
}

// Config holds provider-independent completion settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	ContextTokens int
}

// ProviderFactory creates a new completer from config.
type ProviderFactory func(cfg Config) (Completer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProviderFactory)
)

// RegisterProvider adds a provider factory to the registry. Called from
// provider init functions.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewCompleter creates a completer for the named provider.
func NewCompleter(provider string, cfg Config) (Completer, error) {
	registryMu.RLock()
	factory, ok := registry[provider]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown completion provider: %s", provider)
	}

	return factory(cfg)
}
