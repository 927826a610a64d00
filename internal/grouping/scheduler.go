package grouping

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler triggers batch clustering runs on a fixed interval. A run
// that finds another process already clustering is treated as a no-op,
// not a failure.
type Scheduler struct {
	builder  *Builder
	logger   zerolog.Logger
	stopCh   chan struct{}
	interval time.Duration
}

// NewScheduler creates a scheduler that calls builder.RunBatch every interval.
func NewScheduler(builder *Builder, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		builder:  builder,
		interval: interval,
		logger:   logger.With().Str("component", "grouping-scheduler").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduling loop. Call from a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Grouping scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Grouping scheduler stopping (context done)")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("Grouping scheduler stopping (stop signal)")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Stop signals the scheduler to shut down gracefully.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
		// Already stopped
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()

	result, err := s.builder.RunBatch(ctx)
	if err != nil {
		if errors.Is(err, ErrBatchInProgress) {
			s.logger.Debug().Msg("Batch already running elsewhere, skipping tick")
			return
		}
		s.logger.Error().Err(err).Msg("Scheduled batch run failed")
		return
	}

	if result.Processed == 0 && result.Skipped == 0 {
		return
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled batch run complete")
}
