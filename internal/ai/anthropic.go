package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	AnthropicProvider     = "anthropic"
	anthropicDefaultModel = "claude-3-5-haiku-latest"
	anthropicMaxTokens    = 1024
)

// anthropicCompleter generates text via the Anthropic Messages API.
type anthropicCompleter struct {
	client        *anthropic.Client
	modelName     string
	contextTokens int
}

func init() {
	RegisterProvider(AnthropicProvider, newAnthropicCompleter)
}

func newAnthropicCompleter(cfg Config) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required for anthropic provider")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	modelName := cfg.Model
	if modelName == "" {
		modelName = anthropicDefaultModel
	}

	return &anthropicCompleter{
		client:        &client,
		modelName:     modelName,
		contextTokens: cfg.ContextTokens,
	}, nil
}

func (c *anthropicCompleter) Model() string      { return c.modelName }
func (c *anthropicCompleter) ContextTokens() int { return c.contextTokens }

func (c *anthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelName),
		MaxTokens: anthropicMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion (model=%s): %w", c.modelName, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return sb.String(), nil
}
