package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Publish(_ context.Context, event Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventGroupCreated, 12)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventGroupCreated, event.Type)
	assert.Equal(t, int64(12), event.GroupID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestFanoutDeliversToAllTargets(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	fanout := NewFanout(zerolog.Nop(), a, b)

	event := NewEvent(EventGroupUpdated, 3)
	require.NoError(t, fanout.Publish(context.Background(), event))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, event.ID, a.events[0].ID)
}

func TestFanoutAbsorbsTargetFailures(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("connection refused")}
	healthy := &recordingNotifier{}
	fanout := NewFanout(zerolog.Nop(), failing, healthy)

	// A failed target never fails the publish.
	require.NoError(t, fanout.Publish(context.Background(), NewEvent(EventGroupCreated, 1)))
	assert.Len(t, healthy.events, 1)
}

func TestFanoutDropsNilTargets(t *testing.T) {
	healthy := &recordingNotifier{}
	fanout := NewFanout(zerolog.Nop(), nil, healthy, nil)

	require.NoError(t, fanout.Publish(context.Background(), NewEvent(EventGroupCreated, 1)))
	assert.Len(t, healthy.events, 1)
}
