package grouping

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fathomdesk/fathom/internal/ai"
	"github.com/fathomdesk/fathom/pkg/models"
)

// categorizeSystemPrompt asks the model to classify a conversation against
// the existing label set only, preferring no assignment over a forced one.
const categorizeSystemPrompt = `You are an Intelligent Issue Categorization System that analyzes customer conversations and matches them to the most appropriate issue group.

Your task is to:
1. Analyze the semantic meaning and core problem described in the conversation
2. Match it against available issue groups based on title and description
3. Only assign to an issue group if there's a strong, relevant match
4. Return null if no good match exists (it's better to leave uncategorized than to miscategorize)

Matching criteria:
- The conversation's main problem should align with the issue group's purpose
- Consider both direct and indirect relevance
- Look for problem patterns, not just keyword matching
- Prioritize accuracy over assignment rate

If the conversation is too generic, unclear, or doesn't fit any existing categories well, return null.

Respond with a JSON object only, no other text:
{"matched_group_id": <group id or null>, "reasoning": "<brief explanation>", "confidence": <0-1>}`

// CategorizeSource is the data access the categorizer needs.
type CategorizeSource interface {
	GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error)
	Messages(ctx context.Context, conversationID int64) ([]models.Message, error)
	AssignGroup(ctx context.Context, conversationID, groupID int64) error
	Candidates(ctx context.Context) ([]models.IssueGroup, error)
}

// CategorizeResult reports the outcome of one point assignment.
type CategorizeResult struct {
	Reasoning  string  `json:"reasoning,omitempty"`
	GroupID    *int64  `json:"group_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Assigned   bool    `json:"assigned"`
}

type categorizeVerdict struct {
	MatchedGroupID *int64  `json:"matched_group_id"`
	Reasoning      string  `json:"reasoning"`
	Confidence     float64 `json:"confidence"`
}

// Categorizer assigns a single conversation to an existing issue group via
// generative classification. Unlike the batch engine it never creates
// groups and never uses embeddings: the model picks from the current label
// set or declines.
type Categorizer struct {
	completer ai.Completer
	source    CategorizeSource
	logger    zerolog.Logger
}

// NewCategorizer creates a categorizer.
func NewCategorizer(completer ai.Completer, source CategorizeSource, logger zerolog.Logger) *Categorizer {
	return &Categorizer{
		completer: completer,
		source:    source,
		logger:    logger.With().Str("component", "categorizer").Logger(),
	}
}

// Categorize classifies one conversation against the existing issue
// groups. The conversation is assigned only when the model names a group
// id that is actually present among the candidates; anything else leaves
// it unassigned.
func (c *Categorizer) Categorize(ctx context.Context, conversationID int64) (*CategorizeResult, error) {
	conv, err := c.source.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", conversationID, err)
	}

	if conv.IssueGroupID != nil {
		return &CategorizeResult{
			Assigned:  true,
			GroupID:   conv.IssueGroupID,
			Reasoning: "conversation is already assigned to an issue group",
		}, nil
	}

	candidates, err := c.source.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load issue groups: %w", err)
	}
	if len(candidates) == 0 {
		return &CategorizeResult{Reasoning: "no issue groups available"}, nil
	}

	content, err := c.conversationContent(ctx, conv)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return &CategorizeResult{Reasoning: "conversation has no content to analyze"}, nil
	}

	prompt := buildCategorizePrompt(content, candidates)

	raw, err := c.completer.Complete(ctx, categorizeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("categorize conversation %d: %w", conversationID, err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return nil, fmt.Errorf("parse categorization for conversation %d: %w", conversationID, err)
	}

	result := &CategorizeResult{
		Reasoning:  verdict.Reasoning,
		Confidence: verdict.Confidence,
	}

	if verdict.MatchedGroupID == nil {
		return result, nil
	}

	// The model must pick one of the offered groups; an unknown id is
	// treated as no match, not an error.
	if !containsGroup(candidates, *verdict.MatchedGroupID) {
		c.logger.Warn().
			Int64("conversationId", conversationID).
			Int64("groupId", *verdict.MatchedGroupID).
			Msg("Model named a group not among candidates, leaving unassigned")
		return result, nil
	}

	if err := c.source.AssignGroup(ctx, conversationID, *verdict.MatchedGroupID); err != nil {
		return nil, fmt.Errorf("assign conversation %d to group %d: %w", conversationID, *verdict.MatchedGroupID, err)
	}

	result.Assigned = true
	result.GroupID = verdict.MatchedGroupID

	c.logger.Info().
		Int64("conversationId", conversationID).
		Int64("groupId", *verdict.MatchedGroupID).
		Float64("confidence", verdict.Confidence).
		Msg("Conversation categorized to issue group")

	return result, nil
}

// conversationContent combines the subject and the customer's messages.
// Agent messages are omitted: the customer's own words describe the
// problem being classified.
func (c *Categorizer) conversationContent(ctx context.Context, conv *models.Conversation) (string, error) {
	messages, err := c.source.Messages(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("load messages for conversation %d: %w", conv.ID, err)
	}

	parts := make([]string, 0, len(messages)+1)
	if conv.Subject != "" {
		parts = append(parts, conv.Subject)
	}
	for _, m := range messages {
		body := strings.TrimSpace(m.Body)
		if m.Role == models.RoleUser && body != "" {
			parts = append(parts, body)
		}
	}

	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

func buildCategorizePrompt(content string, candidates []models.IssueGroup) string {
	var sb strings.Builder
	sb.WriteString("CUSTOMER CONVERSATION: \"")
	sb.WriteString(content)
	sb.WriteString("\"\n\nAVAILABLE ISSUE GROUPS:\n")
	for _, group := range candidates {
		fmt.Fprintf(&sb, "ID: %d\nTitle: %s\nDescription: %s\n\n", group.ID, group.Title, orNoDescription(group.Description))
	}
	sb.WriteString("TASK:\nAnalyze this customer conversation and determine which issue group (if any) best matches the customer's problem.\n\n")
	sb.WriteString("Remember: It's better to return null than to force a poor match.")
	return sb.String()
}

// parseVerdict decodes the model's JSON verdict, tolerating code fences.
func parseVerdict(raw string) (*categorizeVerdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var verdict categorizeVerdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

func containsGroup(candidates []models.IssueGroup, id int64) bool {
	for _, g := range candidates {
		if g.ID == id {
			return true
		}
	}
	return false
}

func orNoDescription(s string) string {
	if s == "" {
		return "No description"
	}
	return s
}
