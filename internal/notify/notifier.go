// Package notify delivers issue group change events to downstream
// consumers. Delivery is fire-and-forget: a failed notification is logged
// and never fails the batch that produced it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType identifies what happened to an issue group.
type EventType string

const (
	// EventGroupCreated is published when a batch run creates a new group.
	EventGroupCreated EventType = "group.created"
	// EventGroupUpdated is published when an existing group gains members.
	EventGroupUpdated EventType = "group.updated"
)

// Event is a single issue group change notification.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	GroupID    int64     `json:"group_id"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(eventType EventType, groupID int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		GroupID:    groupID,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier delivers events to one downstream destination.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout delivers each event to every target, absorbing per-target
// failures. Its Publish never returns an error.
type Fanout struct {
	targets []Notifier
	logger  zerolog.Logger
}

// NewFanout creates a fanout over the given targets. Nil targets are
// dropped so callers can pass optional notifiers unconditionally.
func NewFanout(logger zerolog.Logger, targets ...Notifier) *Fanout {
	kept := make([]Notifier, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &Fanout{
		targets: kept,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Publish sends the event to all targets. Failures are logged, not returned.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	for _, target := range f.targets {
		if err := target.Publish(ctx, event); err != nil {
			f.logger.Warn().
				Err(err).
				Str("eventType", string(event.Type)).
				Int64("groupId", event.GroupID).
				Msg("Failed to publish issue group event")
		}
	}
	return nil
}
