package grouping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdesk/fathom/internal/notify"
	"github.com/fathomdesk/fathom/pkg/models"
)

type fakeConversationSource struct {
	eligible    []models.Conversation
	missing     int64
	assigned    map[int64]int64
	assignErrOn int64
	mu          sync.Mutex
}

func (f *fakeConversationSource) Eligible(_ context.Context, limit int) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Conversation, 0, limit)
	for _, c := range f.eligible {
		if _, ok := f.assigned[c.ID]; ok {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeConversationSource) MissingFingerprintCount(_ context.Context) (int64, error) {
	return f.missing, nil
}

func (f *fakeConversationSource) AssignGroup(_ context.Context, conversationID, groupID int64) error {
	if f.assignErrOn != 0 && conversationID == f.assignErrOn {
		return errors.New("connection reset")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assigned == nil {
		f.assigned = make(map[int64]int64)
	}
	f.assigned[conversationID] = groupID
	return nil
}

func (f *fakeConversationSource) assignedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assigned)
}

type fakeGroupStore struct {
	groups    []models.IssueGroup
	nextID    int64
	createErr error
}

func (f *fakeGroupStore) Refs(_ context.Context) ([]models.GroupRef, error) {
	refs := make([]models.GroupRef, 0, len(f.groups))
	for _, g := range f.groups {
		refs = append(refs, models.GroupRef{ID: g.ID, Title: g.Title, Fingerprint: g.Fingerprint})
	}
	return refs, nil
}

func (f *fakeGroupStore) Create(_ context.Context, group *models.IssueGroup) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	group.ID = f.nextID
	f.groups = append(f.groups, *group)
	return f.nextID, nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notify.Event) error {
	r.events = append(r.events, event)
	return nil
}

type fakeLock struct {
	held       bool
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeLock) Acquire(_ context.Context) (func(), bool, error) {
	if f.acquireErr != nil {
		return nil, false, f.acquireErr
	}
	if f.held {
		return nil, false, nil
	}
	f.acquired++
	return func() { f.released++ }, true, nil
}

func newTestBuilder(convs *fakeConversationSource, groups *fakeGroupStore, completer *fakeCompleter, notifier notify.Notifier, lock Lock) *Builder {
	cfg := BuilderConfig{SimilarityThreshold: 0.85, BatchSize: 50}
	return NewBuilder(cfg, convs, groups, NewLabeler(completer, zerolog.Nop()), notifier, lock, zerolog.Nop())
}

func conv(id int64, text string, fp []float32) models.Conversation {
	return models.Conversation{
		ID:              id,
		Subject:         "Subject",
		Status:          models.StatusOpen,
		FingerprintText: text,
		Fingerprint:     fp,
	}
}

func TestRunBatchCreatesGroupWhenNothingMatches(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{conv(1, "Problem: 2FA SMS never arrives", []float32{1, 0, 0})},
	}
	groups := &fakeGroupStore{}
	completer := &fakeCompleter{reply: "Cannot receive 2FA SMS codes"}

	builder := newTestBuilder(convs, groups, completer, nil, nil)
	result, err := builder.RunBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Created: 1}, result)
	require.Len(t, groups.groups, 1)
	assert.Equal(t, "Cannot receive 2FA SMS codes", groups.groups[0].Title)
	assert.Equal(t, "Problem: 2FA SMS never arrives", groups.groups[0].Description)
	// The founding conversation's fingerprint becomes the representative.
	assert.Equal(t, []float32{1, 0, 0}, groups.groups[0].Fingerprint)
	assert.Equal(t, groups.groups[0].ID, convs.assigned[1])
}

func TestRunBatchMatchesExistingGroup(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{conv(1, "Problem: card declined", []float32{0.99, 0.14, 0})},
	}
	groups := &fakeGroupStore{
		groups: []models.IssueGroup{{ID: 7, Title: "Card declined", Fingerprint: []float32{1, 0, 0}}},
		nextID: 7,
	}
	completer := &fakeCompleter{reply: "should not be called"}

	builder := newTestBuilder(convs, groups, completer, nil, nil)
	result, err := builder.RunBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1}, result)
	assert.Equal(t, int64(7), convs.assigned[1])
	assert.Len(t, groups.groups, 1)
	assert.Equal(t, 0, completer.calls)
}

func TestRunBatchInBatchVisibility(t *testing.T) {
	// Two near-identical conversations arrive in the same batch with no
	// existing groups. The first founds a group; the second must see it
	// and join rather than found a duplicate.
	convs := &fakeConversationSource{
		eligible: []models.Conversation{
			conv(1, "Problem: export stuck at 0%", []float32{1, 0.1, 0}),
			conv(2, "Problem: export hangs at zero percent", []float32{1, 0.11, 0}),
		},
	}
	groups := &fakeGroupStore{}
	completer := &fakeCompleter{reply: "CSV export hangs at 0%"}

	builder := newTestBuilder(convs, groups, completer, nil, nil)
	result, err := builder.RunBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 2, Created: 1}, result)
	require.Len(t, groups.groups, 1)
	assert.Equal(t, convs.assigned[1], convs.assigned[2])
}

func TestRunBatchSkipsMissingFingerprintText(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{
			conv(1, "", []float32{1, 0, 0}),
			conv(2, "Problem: refund not issued", []float32{0, 1, 0}),
		},
		missing: 3,
	}
	groups := &fakeGroupStore{}
	completer := &fakeCompleter{reply: "Refund not issued after return"}

	builder := newTestBuilder(convs, groups, completer, nil, nil)
	result, err := builder.RunBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Created: 1, Skipped: 1, MissingFingerprints: 3}, result)
	_, assigned := convs.assigned[1]
	assert.False(t, assigned)
}

func TestRunBatchIdempotent(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{conv(1, "Problem: invoice PDF blank", []float32{0, 0, 1})},
	}
	groups := &fakeGroupStore{}
	completer := &fakeCompleter{reply: "Invoice PDF renders blank"}

	builder := newTestBuilder(convs, groups, completer, nil, nil)

	first, err := builder.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	// Already-grouped conversations drop out of selection, so a re-run
	// is a no-op rather than a duplicate assignment.
	second, err := builder.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, second)
	assert.Len(t, groups.groups, 1)
}

func TestRunBatchThresholdControlsMatching(t *testing.T) {
	fingerprint := []float32{1, 1, 0}
	existing := models.IssueGroup{ID: 1, Title: "Existing", Fingerprint: []float32{1, 0, 0}}
	// cos([1,1,0],[1,0,0]) ≈ 0.707

	for _, tt := range []struct {
		name      string
		threshold float64
		created   int
	}{
		{"below threshold creates", 0.85, 1},
		{"above threshold matches", 0.5, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			convs := &fakeConversationSource{
				eligible: []models.Conversation{conv(1, "Problem: something", fingerprint)},
			}
			groups := &fakeGroupStore{groups: []models.IssueGroup{existing}, nextID: 1}
			completer := &fakeCompleter{reply: "New group"}

			builder := NewBuilder(
				BuilderConfig{SimilarityThreshold: tt.threshold, BatchSize: 50},
				convs, groups, NewLabeler(completer, zerolog.Nop()), nil, nil, zerolog.Nop(),
			)

			result, err := builder.RunBatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.created, result.Created)
			assert.Equal(t, 1, result.Processed)
		})
	}
}

func TestRunBatchStorageFailureKeepsCommittedWork(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{
			conv(1, "Problem: first issue", []float32{1, 0, 0}),
			conv(2, "Problem: second issue", []float32{0, 1, 0}),
		},
		assignErrOn: 2,
	}
	groups := &fakeGroupStore{}
	completer := &fakeCompleter{reply: "Some title"}
	notifier := &recordingNotifier{}

	builder := newTestBuilder(convs, groups, completer, notifier, nil)
	result, err := builder.RunBatch(context.Background())

	require.Error(t, err)
	// The first conversation's group and assignment survive the failure.
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)
	assert.Contains(t, convs.assigned, int64(1))

	// Events for committed work still go out.
	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventGroupCreated, notifier.events[0].Type)
}

func TestRunBatchPublishesEvents(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{
			conv(1, "Problem: new issue", []float32{1, 0, 0}),
			conv(2, "Problem: known issue", []float32{0, 1, 0}),
		},
	}
	groups := &fakeGroupStore{
		groups: []models.IssueGroup{{ID: 5, Title: "Known", Fingerprint: []float32{0, 1, 0}}},
		nextID: 5,
	}
	completer := &fakeCompleter{reply: "Brand new issue"}
	notifier := &recordingNotifier{}

	builder := newTestBuilder(convs, groups, completer, notifier, nil)
	_, err := builder.RunBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.events, 2)
	types := map[notify.EventType]int64{}
	for _, e := range notifier.events {
		types[e.Type] = e.GroupID
	}
	assert.Equal(t, int64(6), types[notify.EventGroupCreated])
	assert.Equal(t, int64(5), types[notify.EventGroupUpdated])
}

func TestRunBatchLockHeldElsewhere(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{conv(1, "Problem: anything", []float32{1, 0, 0})},
	}
	lock := &fakeLock{held: true}

	builder := newTestBuilder(convs, &fakeGroupStore{}, &fakeCompleter{reply: "t"}, nil, lock)
	_, err := builder.RunBatch(context.Background())

	assert.ErrorIs(t, err, ErrBatchInProgress)
	assert.Empty(t, convs.assigned)
}

func TestRunBatchReleasesLock(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{conv(1, "Problem: anything", []float32{1, 0, 0})},
	}
	lock := &fakeLock{}

	builder := newTestBuilder(convs, &fakeGroupStore{}, &fakeCompleter{reply: "t"}, nil, lock)
	_, err := builder.RunBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestRunBatchRespectsBatchSize(t *testing.T) {
	convs := &fakeConversationSource{
		eligible: []models.Conversation{
			conv(1, "Problem: a", []float32{1, 0, 0}),
			conv(2, "Problem: b", []float32{0, 1, 0}),
			conv(3, "Problem: c", []float32{0, 0, 1}),
		},
	}
	groups := &fakeGroupStore{}
	completer := &fakeCompleter{reply: "Title"}

	builder := NewBuilder(
		BuilderConfig{SimilarityThreshold: 0.85, BatchSize: 2},
		convs, groups, NewLabeler(completer, zerolog.Nop()), nil, nil, zerolog.Nop(),
	)

	result, err := builder.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	_, third := convs.assigned[3]
	assert.False(t, third)
}
