// Package fingerprint converts a conversation transcript into a
// specific-problem summary and an embedding vector used for clustering.
package fingerprint

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tiktoken-go/tokenizer"

	"github.com/fathomdesk/fathom/internal/ai"
	"github.com/fathomdesk/fathom/internal/embedding"
	"github.com/fathomdesk/fathom/pkg/models"
)

// summarySystemPrompt instructs the model to extract the exact, specific
// problem rather than a general category. Overly generic summaries make
// unrelated problems look similar downstream, which is what makes the
// similarity threshold meaningful.
const summarySystemPrompt = `You will be given a support conversation between a customer and a support agent. Your task is to extract the SPECIFIC problem and create a summary for clustering similar issues.

CRITICAL: Focus on the EXACT, SPECIFIC problem - not general categories.

Good examples of specific problems:
- "Cannot receive 2FA SMS code"
- "Credit card declined with error 402"
- "Video playback freezes after 30 seconds"
- "Cannot download PDF receipts"
- "Subscription renewal failed silently"

Bad examples (too general):
- "Login issues"
- "Payment problems"
- "Technical difficulties"
- "Account access"

Follow these steps:

1. Identify the SPECIFIC problem or error the customer reported
2. Extract any error messages, codes, or specific symptoms
3. Note the exact action the user was trying to perform
4. Capture the specific resolution or workaround provided
5. Remove PII but keep technical details and error specifics

Your response should include:
1. Problem: The EXACT issue in 5-10 words (e.g., "Cannot receive password reset email")
2. Details: Specific symptoms, error codes, or technical details
3. Solution: The specific fix or workaround provided
4. Action: What needs to be done to resolve this

Format your response as:
Problem: [Specific issue in 5-10 words]
Details: [Technical details and symptoms]
Solution: [Specific resolution]
Action: [Required action to fix]`

// promptHeadroom is reserved below the context limit so the token estimate
// does not have to be exact.
const promptHeadroom = 100

// PromptTooLongError is a terminal, non-retriable failure: the conversation
// cannot be fingerprinted until its transcript shrinks or is truncated
// upstream.
type PromptTooLongError struct {
	ConversationID int64
}

func (e *PromptTooLongError) Error() string {
	return fmt.Sprintf("prompt for conversation %d exceeds the completion context limit", e.ConversationID)
}

// Store is the subset of conversation store methods the generator needs.
type Store interface {
	Messages(ctx context.Context, conversationID int64) ([]models.Message, error)
	SaveFingerprint(ctx context.Context, conversationID int64, text string, vector []float32) error
}

// Generator produces and persists conversation fingerprints.
type Generator struct {
	completer ai.Completer
	embedder  embedding.Embedder
	store     Store
	codec     tokenizer.Codec
	logger    zerolog.Logger
}

// NewGenerator creates a fingerprint generator.
func NewGenerator(completer ai.Completer, embedder embedding.Embedder, store Store, logger zerolog.Logger) (*Generator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &Generator{
		completer: completer,
		embedder:  embedder,
		store:     store,
		codec:     codec,
		logger:    logger.With().Str("component", "fingerprint").Logger(),
	}, nil
}

// Generate fingerprints one conversation: summarize its transcript, embed
// the summary, and persist both onto the conversation record. Returns the
// fingerprint text and vector.
func (g *Generator) Generate(ctx context.Context, conversationID int64) (string, []float32, error) {
	messages, err := g.store.Messages(ctx, conversationID)
	if err != nil {
		return "", nil, fmt.Errorf("load messages for conversation %d: %w", conversationID, err)
	}

	prompt := formatTranscript(messages)
	if prompt == "" {
		return "", nil, fmt.Errorf("conversation %d has no transcript to fingerprint", conversationID)
	}

	tokens, err := g.codec.Count(summarySystemPrompt + prompt)
	if err != nil {
		return "", nil, fmt.Errorf("count prompt tokens for conversation %d: %w", conversationID, err)
	}
	if tokens > g.completer.ContextTokens()-promptHeadroom {
		return "", nil, &PromptTooLongError{ConversationID: conversationID}
	}

	text, err := g.completer.Complete(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("summarize conversation %d: %w", conversationID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, fmt.Errorf("empty summary for conversation %d", conversationID)
	}

	vector, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return "", nil, fmt.Errorf("embed summary for conversation %d: %w", conversationID, err)
	}

	if err := g.store.SaveFingerprint(ctx, conversationID, text, vector); err != nil {
		return "", nil, fmt.Errorf("save fingerprint for conversation %d: %w", conversationID, err)
	}

	g.logger.Debug().
		Int64("conversationId", conversationID).
		Int("promptTokens", tokens).
		Int("dimensions", len(vector)).
		Msg("Conversation fingerprinted")

	return text, vector, nil
}

// formatTranscript renders messages as "Customer:"/"Agent:" lines, dropping
// empty or whitespace-only messages. Returns "" for an empty transcript.
func formatTranscript(messages []models.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		body := strings.TrimSpace(m.Body)
		if body == "" {
			continue
		}
		speaker := "Agent"
		if m.Role == models.RoleUser {
			speaker = "Customer"
		}
		lines = append(lines, speaker+": "+body)
	}

	if len(lines) == 0 {
		return ""
	}

	return "Conversation:\n" + strings.Join(lines, "\n")
}
