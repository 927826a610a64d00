package worker

import (
	"context"

	"github.com/fathomdesk/fathom/internal/notify"
	"github.com/fathomdesk/fathom/internal/worker/sse"
)

// SSENotifier bridges issue group events onto the SSE change feed.
type SSENotifier struct {
	broadcaster *sse.Broadcaster
}

// NewSSENotifier wraps a broadcaster as a notify.Notifier.
func NewSSENotifier(broadcaster *sse.Broadcaster) *SSENotifier {
	return &SSENotifier{broadcaster: broadcaster}
}

// Publish broadcasts the event to all connected clients. Never fails:
// the broadcaster drops dead clients internally.
func (n *SSENotifier) Publish(_ context.Context, event notify.Event) error {
	n.broadcaster.Broadcast(event)
	return nil
}

var _ notify.Notifier = (*SSENotifier)(nil)
