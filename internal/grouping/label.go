// Package grouping implements the incremental issue group clustering
// engine: label generation, batch coordination, generative point
// assignment, and fingerprint backfill.
package grouping

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/fathomdesk/fathom/internal/ai"
	"github.com/fathomdesk/fathom/pkg/models"
)

// titleSystemPrompt instructs the model toward specific, actionable titles.
// "Cannot receive 2FA SMS codes" clusters usefully; "Login Issues" does not.
const titleSystemPrompt = `You are generating a title for a group of SIMILAR, SPECIFIC issues that support agents will handle together.

CRITICAL: Create SPECIFIC, ACTIONABLE titles that describe the EXACT problem - not general categories.

The title should:
1. Describe the SPECIFIC problem that all conversations share
2. Be action-oriented and specific enough for bulk handling
3. Be 3-8 words long
4. Include specific symptoms, errors, or actions when relevant

Examples of GOOD specific titles:
- "Cannot receive 2FA SMS codes"
- "Password reset email not arriving"
- "Credit card declined error 402"
- "PDF downloads failing in Chrome"
- "Subscription auto-renewal failing silently"

Examples of BAD generic titles:
- "Login Issues" (too broad)
- "Payment Problems" (too vague)
- "Account Access" (not specific)
- "Technical Difficulties" (meaningless)

The summary will contain a "Problem:" line - use this as the basis for your title, making it slightly more descriptive if needed.

Return ONLY the title, nothing else.`

// genericTitle is the last-resort label when neither the AI path nor the
// subject yields anything usable.
const genericTitle = "Support Issues"

// TitleSource tags which path produced a title, so callers and tests can
// tell an AI title from a deterministic fallback.
type TitleSource string

const (
	SourceAI       TitleSource = "ai"
	SourceFallback TitleSource = "fallback"
)

// Title is the result of label generation.
type Title struct {
	Text   string
	Source TitleSource
}

var (
	replyPrefixRe  = regexp.MustCompile(`(?i)^(re:|fwd:)\s*`)
	urgencyRe      = regexp.MustCompile(`(?i)\s*-\s*(urgent|asap|help|please)`)
	parentheticRe  = regexp.MustCompile(`\s*\(.*?\)\s*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	quoteTrimChars = `"'`
)

// Labeler produces issue group titles, degrading to a deterministic
// fallback on any AI failure. Generate never returns an error.
type Labeler struct {
	completer ai.Completer
	logger    zerolog.Logger
}

// NewLabeler creates a labeler.
func NewLabeler(completer ai.Completer, logger zerolog.Logger) *Labeler {
	return &Labeler{
		completer: completer,
		logger:    logger.With().Str("component", "labeler").Logger(),
	}
}

// Generate produces a title for a new issue group from the founding
// conversation's fingerprint text and original subject. All primary-path
// failures (AI error, empty title, overlong title) degrade to the fallback.
func (l *Labeler) Generate(ctx context.Context, fingerprintText, subject string) Title {
	if fingerprintText != "" && l.completer != nil {
		prompt := "Structured summary:\n" + fingerprintText + "\n\nOriginal subject: " + orNA(subject)

		text, err := l.completer.Complete(ctx, titleSystemPrompt, prompt)
		if err == nil {
			title := strings.Trim(strings.TrimSpace(text), quoteTrimChars)
			if title != "" && utf8.RuneCountInString(title) <= models.MaxTitleLen {
				return Title{Text: title, Source: SourceAI}
			}
			l.logger.Debug().Int("length", utf8.RuneCountInString(title)).Msg("Rejected AI title, falling back")
		} else {
			l.logger.Warn().Err(err).Msg("Title generation failed, falling back to subject")
		}
	}

	return Title{Text: FallbackTitle(subject), Source: SourceFallback}
}

// FallbackTitle derives a title deterministically from an email subject:
// reply/forward prefixes, urgency phrases, and parenthetical content are
// stripped, whitespace collapsed, and the result truncated to the stored
// field length. An empty subject yields the generic label.
func FallbackTitle(subject string) string {
	title := replyPrefixRe.ReplaceAllString(subject, "")
	title = urgencyRe.ReplaceAllString(title, "")
	title = parentheticRe.ReplaceAllString(title, " ")
	title = whitespaceRe.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)

	if title == "" {
		return genericTitle
	}
	return Truncate(title, models.MaxTitleLen)
}

// Truncate bounds s to max characters, matching the VARCHAR limits of the
// stored fields.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
