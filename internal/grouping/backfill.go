package grouping

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fathomdesk/fathom/internal/fingerprint"
)

// BackfillSource lists conversations that still need fingerprints.
type BackfillSource interface {
	MissingFingerprintIDs(ctx context.Context, limit int) ([]int64, error)
}

// FingerprintGenerator is the single-conversation fingerprint operation.
type FingerprintGenerator interface {
	Generate(ctx context.Context, conversationID int64) (string, []float32, error)
}

// BackfillResult reports one backfill pass.
type BackfillResult struct {
	Requested int `json:"requested"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	TooLong   int `json:"tooLong"`
}

// Backfiller fingerprints eligible conversations that are missing one,
// typically those created before fingerprinting was enabled. Individual
// failures are logged and skipped so one bad conversation cannot stall
// the rest of the pass.
type Backfiller struct {
	source    BackfillSource
	generator FingerprintGenerator
	logger    zerolog.Logger
}

// NewBackfiller creates a backfiller.
func NewBackfiller(source BackfillSource, generator FingerprintGenerator, logger zerolog.Logger) *Backfiller {
	return &Backfiller{
		source:    source,
		generator: generator,
		logger:    logger.With().Str("component", "backfill").Logger(),
	}
}

// Run fingerprints up to limit conversations that lack one. A canceled
// context stops the pass between conversations and returns the work done
// so far alongside the context error.
func (b *Backfiller) Run(ctx context.Context, limit int) (*BackfillResult, error) {
	ids, err := b.source.MissingFingerprintIDs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations missing fingerprints: %w", err)
	}

	result := &BackfillResult{Requested: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	b.logger.Info().Int("count", len(ids)).Msg("Backfilling conversation fingerprints")

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if _, _, err := b.generator.Generate(ctx, id); err != nil {
			var tooLong *fingerprint.PromptTooLongError
			if errors.As(err, &tooLong) {
				result.TooLong++
				b.logger.Warn().
					Int64("conversationId", id).
					Msg("Transcript exceeds context limit, skipping permanently")
				continue
			}
			result.Failed++
			b.logger.Warn().
				Err(err).
				Int64("conversationId", id).
				Msg("Fingerprint generation failed, skipping")
			continue
		}
		result.Generated++
	}

	b.logger.Info().
		Int("generated", result.Generated).
		Int("failed", result.Failed).
		Int("tooLong", result.TooLong).
		Msg("Backfill pass complete")

	return result, nil
}
