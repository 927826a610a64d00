package grouping

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fathomdesk/fathom/internal/notify"
	"github.com/fathomdesk/fathom/pkg/models"
	"github.com/fathomdesk/fathom/pkg/similarity"
)

// ErrBatchInProgress is returned when another batch run holds the
// cross-process lock. The caller should simply try again later; the
// running batch will pick up anything this one would have.
var ErrBatchInProgress = errors.New("a batch clustering run is already in progress")

// ConversationSource is the subset of conversation store methods the
// builder needs.
type ConversationSource interface {
	Eligible(ctx context.Context, limit int) ([]models.Conversation, error)
	MissingFingerprintCount(ctx context.Context) (int64, error)
	AssignGroup(ctx context.Context, conversationID, groupID int64) error
}

// GroupStore is the subset of issue group store methods the builder needs.
type GroupStore interface {
	Refs(ctx context.Context) ([]models.GroupRef, error)
	Create(ctx context.Context, group *models.IssueGroup) (int64, error)
}

// Lock serializes batch runs across processes. Acquire must not block:
// when the lock is held elsewhere it returns acquired=false.
type Lock interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// Result summarizes one batch run.
type Result struct {
	// Processed counts conversations that were matched or founded a group.
	Processed int `json:"processed"`
	// Created counts newly created issue groups.
	Created int `json:"created"`
	// Skipped counts selected conversations dropped for missing
	// fingerprint text.
	Skipped int `json:"skipped"`
	// MissingFingerprints counts eligible conversations that still need
	// fingerprinting before they can be clustered.
	MissingFingerprints int64 `json:"missing_fingerprints"`
}

// BuilderConfig holds the clustering knobs. Values are validated by
// config.Load before they reach the builder.
type BuilderConfig struct {
	SimilarityThreshold float64
	BatchSize           int
}

// Builder is the batch coordinator: it selects a bounded batch of
// fingerprinted, unclustered conversations and assigns each to the best
// matching issue group, creating labeled groups where nothing matches.
//
// The cluster snapshot is loaded once per run and grown append-only in
// memory, so groups created early in a batch are immediately visible to
// later conversations in the same batch. Representative fingerprints are
// immutable, which is what keeps the snapshot valid for the whole run.
type Builder struct {
	conversations ConversationSource
	groups        GroupStore
	labeler       *Labeler
	notifier      notify.Notifier
	lock          Lock
	metrics       *Metrics
	logger        zerolog.Logger
	cfg           BuilderConfig
	sf            singleflight.Group
}

// NewBuilder creates a batch coordinator. The lock and notifier are
// optional; a nil lock skips cross-process serialization (single-writer
// deployments) and a nil notifier disables change events.
func NewBuilder(
	cfg BuilderConfig,
	conversations ConversationSource,
	groups GroupStore,
	labeler *Labeler,
	notifier notify.Notifier,
	lock Lock,
	logger zerolog.Logger,
) *Builder {
	return &Builder{
		cfg:           cfg,
		conversations: conversations,
		groups:        groups,
		labeler:       labeler,
		notifier:      notifier,
		lock:          lock,
		metrics:       newMetrics(),
		logger:        logger.With().Str("component", "group-builder").Logger(),
	}
}

// SetNotifier replaces the builder's notifier. Intended for wiring during
// startup, before any batch runs.
func (b *Builder) SetNotifier(notifier notify.Notifier) {
	b.notifier = notifier
}

// RunBatch executes one batch clustering run. Concurrent in-process calls
// are coalesced into a single run; concurrent runs in other processes are
// rejected with ErrBatchInProgress via the lock. Safe to invoke repeatedly:
// conversations that already hold membership are never selected again.
func (b *Builder) RunBatch(ctx context.Context) (Result, error) {
	v, err, _ := b.sf.Do("run-batch", func() (any, error) {
		if b.lock != nil {
			release, acquired, err := b.lock.Acquire(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("acquire batch lock: %w", err)
			}
			if !acquired {
				return Result{}, ErrBatchInProgress
			}
			defer release()
		}
		return b.run(ctx)
	})

	result, _ := v.(Result)
	return result, err
}

func (b *Builder) run(ctx context.Context) (Result, error) {
	var result Result

	missing, err := b.conversations.MissingFingerprintCount(ctx)
	if err != nil {
		return result, fmt.Errorf("count missing fingerprints: %w", err)
	}
	result.MissingFingerprints = missing

	batch, err := b.conversations.Eligible(ctx, b.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("select batch: %w", err)
	}
	if len(batch) == 0 {
		b.logger.Debug().Int64("missingFingerprints", missing).Msg("No eligible conversations")
		return result, nil
	}

	// One snapshot per run. Newly created groups are appended below so
	// later conversations in this batch can match them.
	groups, err := b.groups.Refs(ctx)
	if err != nil {
		return result, fmt.Errorf("load issue groups: %w", err)
	}

	var createdIDs, updatedIDs []int64

	for i := range batch {
		conv := &batch[i]

		if conv.FingerprintText == "" {
			result.Skipped++
			b.logger.Debug().Int64("conversationId", conv.ID).Msg("Skipping conversation without fingerprint text")
			continue
		}

		match := similarity.BestMatch(conv.Fingerprint, groups, b.cfg.SimilarityThreshold)
		if match != nil {
			if err := b.conversations.AssignGroup(ctx, conv.ID, match.GroupID); err != nil {
				b.publish(ctx, createdIDs, updatedIDs)
				return result, fmt.Errorf("assign conversation %d to group %d: %w", conv.ID, match.GroupID, err)
			}
			updatedIDs = append(updatedIDs, match.GroupID)
			result.Processed++

			b.logger.Debug().
				Int64("conversationId", conv.ID).
				Int64("groupId", match.GroupID).
				Float64("similarity", match.Similarity).
				Msg("Conversation matched existing group")
			continue
		}

		title := b.labeler.Generate(ctx, conv.FingerprintText, conv.Subject)
		if title.Source == SourceFallback {
			b.metrics.fallbackTitles.Add(ctx, 1)
		}

		groupID, err := b.groups.Create(ctx, &models.IssueGroup{
			Title:       Truncate(title.Text, models.MaxTitleLen),
			Description: Truncate(conv.FingerprintText, models.MaxDescriptionLen),
			Fingerprint: conv.Fingerprint,
		})
		if err != nil {
			b.publish(ctx, createdIDs, updatedIDs)
			return result, fmt.Errorf("create issue group for conversation %d: %w", conv.ID, err)
		}
		if err := b.conversations.AssignGroup(ctx, conv.ID, groupID); err != nil {
			b.publish(ctx, createdIDs, updatedIDs)
			return result, fmt.Errorf("assign conversation %d to new group %d: %w", conv.ID, groupID, err)
		}

		groups = append(groups, models.GroupRef{
			ID:          groupID,
			Title:       title.Text,
			Fingerprint: conv.Fingerprint,
		})
		createdIDs = append(createdIDs, groupID)
		result.Created++
		result.Processed++

		b.logger.Info().
			Int64("conversationId", conv.ID).
			Int64("groupId", groupID).
			Str("title", title.Text).
			Str("titleSource", string(title.Source)).
			Msg("Created issue group")
	}

	b.metrics.processed.Add(ctx, int64(result.Processed))
	b.metrics.created.Add(ctx, int64(result.Created))

	b.publish(ctx, createdIDs, updatedIDs)

	b.logger.Info().
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int64("missingFingerprints", result.MissingFingerprints).
		Msg("Batch clustering run complete")

	return result, nil
}

// publish delivers change events for the work committed so far. Events
// are fire-and-forget; failures are absorbed by the notifier. Groups that
// were both created and joined in this run only get a created event.
func (b *Builder) publish(ctx context.Context, createdIDs, updatedIDs []int64) {
	if b.notifier == nil {
		return
	}

	created := make(map[int64]struct{}, len(createdIDs))
	for _, id := range createdIDs {
		created[id] = struct{}{}
		_ = b.notifier.Publish(ctx, notify.NewEvent(notify.EventGroupCreated, id))
	}

	seen := make(map[int64]struct{}, len(updatedIDs))
	for _, id := range updatedIDs {
		if _, ok := created[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		_ = b.notifier.Publish(ctx, notify.NewEvent(notify.EventGroupUpdated, id))
	}
}
