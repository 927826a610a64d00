package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	OpenAIProvider       = "openai"
	OpenAIDefaultBaseURL = "https://api.openai.com/v1"
	OpenAIDefaultModel   = "gpt-4o-mini"
	openAIHTTPTimeout    = 60 * time.Second
)

// openAICompleter generates text via an OpenAI-compatible chat completions
// API (also works behind LiteLLM-style proxies).
type openAICompleter struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	modelName     string
	contextTokens int
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
}

func init() {
	RegisterProvider(OpenAIProvider, newOpenAICompleter)
}

func newOpenAICompleter(cfg Config) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required for openai provider")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = OpenAIDefaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = OpenAIDefaultModel
	}

	return &openAICompleter{
		client:        &http.Client{Timeout: openAIHTTPTimeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        cfg.APIKey,
		modelName:     modelName,
		contextTokens: cfg.ContextTokens,
	}, nil
}

func (c *openAICompleter) Model() string      { return c.modelName }
func (c *openAICompleter) ContextTokens() int { return c.contextTokens }

func (c *openAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody := openAIChatRequest{
		Model: c.modelName,
		Messages: []openAIChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send completion request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion API error (model=%s, status=%d): %s",
			c.modelName, resp.StatusCode, strings.TrimSpace(string(bodySnippet)))
	}

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode completion response from %s: %w", c.baseURL, err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices for model %s", c.modelName)
	}

	return chatResp.Choices[0].Message.Content, nil
}
