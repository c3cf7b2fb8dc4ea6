package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
)

var errFlaky = errors.New("flaky backend")

// fakeBackend records saves and can fail or hold them open.
type fakeBackend struct {
	mu   sync.Mutex
	fail error
	// failTimes makes the next calls fail with errFlaky.
	failTimes int
	gates     map[string]chan struct{}
	started   chan string
	saved     []model.StatusRecord
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{gates: make(map[string]chan struct{}), started: make(chan string, 16)}
}

func (f *fakeBackend) hold(id string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[id] = ch
	return ch
}

func (f *fakeBackend) SaveStatus(ctx context.Context, rec model.StatusRecord) error {
	f.started <- rec.MessageID

	f.mu.Lock()
	gate := f.gates[rec.MessageID]
	delete(f.gates, rec.MessageID)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimes > 0 {
		f.failTimes--
		return errFlaky
	}
	if f.fail != nil {
		return f.fail
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeBackend) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeRefresher struct {
	mu        sync.Mutex
	mailboxes []string
}

func (r *fakeRefresher) Refresh(mailboxID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailboxes = append(r.mailboxes, mailboxID)
}

type fixture struct {
	inbox     *store.Inbox
	backend   *fakeBackend
	refresher *fakeRefresher
	events    <-chan events.Event
	engine    *Engine
}

func newFixture(t *testing.T, seed ...model.MessageSummary) *fixture {
	t.Helper()
	f := &fixture{
		inbox:     store.NewInbox(seed...),
		backend:   newFakeBackend(),
		refresher: &fakeRefresher{},
	}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)
	f.events = ch
	f.engine = NewEngine(f.inbox, f.backend, bus, f.refresher, zerolog.Nop())
	return f
}

func (f *fixture) settled() []events.StatusSettled {
	var out []events.StatusSettled
	for {
		select {
		case e := <-f.events:
			if s, ok := e.(events.StatusSettled); ok {
				out = append(out, s)
			}
		default:
			return out
		}
	}
}

func seedMessage(id string, st model.Status) model.MessageSummary {
	return model.MessageSummary{
		ID:             id,
		ConversationID: "conv_" + id,
		MailboxID:      "support",
		Subject:        "Help",
		Date:           time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:         st,
	}
}

func TestApplyConfirmed(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew))

	got, err := f.engine.Apply(context.Background(), "1", model.StatusInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)

	stored, err := f.inbox.Get("1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, stored.Status)

	settled := f.settled()
	require.Len(t, settled, 1)
	assert.Equal(t, events.OutcomeConfirmed, settled[0].Outcome)

	assert.Equal(t, 1, f.backend.savedCount())
	assert.Equal(t, []string{"support"}, f.refresher.mailboxes)
}

func TestApplyRollsBackOnBackendFailure(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew), seedMessage("2", model.StatusInProgress))
	f.backend.fail = errors.New("backend unavailable")
	before := f.inbox.Snapshot()

	_, err := f.engine.Apply(context.Background(), "1", model.StatusResolved, model.LabelSpam)
	require.Error(t, err)
	assert.True(t, apperr.IsPersistenceError(err))

	assert.Equal(t, before, f.inbox.Snapshot())
	stored, _ := f.inbox.Get("1")
	assert.Equal(t, model.StatusNew, stored.Status)
	assert.Empty(t, stored.Labels)

	settled := f.settled()
	require.Len(t, settled, 1)
	assert.Equal(t, events.OutcomeRolledBack, settled[0].Outcome)
	assert.Equal(t, model.StatusNew, settled[0].Status)
	assert.Empty(t, f.refresher.mailboxes)
}

func TestApplyNotFoundLeavesStoreUnmutated(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew))
	before := f.inbox.Snapshot()

	_, err := f.engine.Apply(context.Background(), "missing", model.StatusResolved, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, before, f.inbox.Snapshot())
	assert.Equal(t, 0, f.backend.savedCount())
	assert.Empty(t, f.settled())
}

func TestApplyValidation(t *testing.T) {
	spam := seedMessage("spam", model.StatusResolved)
	spam.Labels = []model.Label{model.LabelSpam}

	f := newFixture(t, seedMessage("1", model.StatusNew), spam)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, "1", model.StatusInProgress, model.LabelIrrelevant)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "label requires resolved")

	_, err = f.engine.Apply(ctx, "1", "closed", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.engine.Apply(ctx, "spam", model.StatusInProgress, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "terminal cannot reopen")

	_, err = f.engine.Apply(ctx, "spam", model.StatusResolved, model.LabelIrrelevant)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "terminal cannot be reclassified")

	got, err := f.engine.Apply(ctx, "spam", model.StatusResolved, "")
	require.NoError(t, err, "staying in the terminal state is not leaving it")
	assert.Equal(t, []model.Label{model.LabelSpam}, got.Labels)

	assert.Equal(t, 1, f.backend.savedCount())
}

func TestStateMachinePaths(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew))
	ctx := context.Background()

	for _, step := range []model.Status{
		model.StatusResolved,   // direct close
		model.StatusInProgress, // reopen
		model.StatusResolved,
		model.StatusNew,
	} {
		got, err := f.engine.Apply(ctx, "1", step, "")
		require.NoError(t, err)
		assert.Equal(t, step, got.Status)
	}

	got, err := f.engine.Apply(ctx, "1", model.StatusResolved, model.LabelIrrelevant)
	require.NoError(t, err)
	assert.True(t, got.IsTerminal())
}

func TestOptimisticValueVisibleWhileInFlight(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew))
	gate := f.backend.hold("1")

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Apply(context.Background(), "1", model.StatusInProgress, "")
		done <- err
	}()

	<-f.backend.started
	stored, err := f.inbox.Get("1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, stored.Status)

	close(gate)
	require.NoError(t, <-done)
}

func TestSameMessageSecondTransitionWaits(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew))
	gate := f.backend.hold("1")

	first := make(chan error, 1)
	go func() {
		_, err := f.engine.Apply(context.Background(), "1", model.StatusInProgress, "")
		first <- err
	}()
	<-f.backend.started

	// Fail-fast variant and a bounded wait both report a conflict.
	_, err := f.engine.TryApply(context.Background(), "1", model.StatusResolved, "")
	assert.ErrorIs(t, err, apperr.ErrTransitionConflict)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.engine.Apply(ctx, "1", model.StatusResolved, "")
	assert.True(t, apperr.IsTransitionConflict(err))

	// An unbounded second request waits for the first to settle.
	second := make(chan error, 1)
	go func() {
		_, err := f.engine.Apply(context.Background(), "1", model.StatusResolved, "")
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("second transition ran while the first was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	stored, _ := f.inbox.Get("1")
	assert.Equal(t, model.StatusResolved, stored.Status)
	assert.Equal(t, 2, f.backend.savedCount())
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestSameMessageFailureThenSuccessDoesNotInterleave(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew))
	gate := f.backend.hold("1")
	f.backend.failTimes = 1

	first := make(chan error, 1)
	go func() {
		_, err := f.engine.Apply(context.Background(), "1", model.StatusInProgress, "")
		first <- err
	}()
	<-f.backend.started

	second := make(chan error, 1)
	go func() {
		_, err := f.engine.Apply(context.Background(), "1", model.StatusResolved, "")
		second <- err
	}()

	close(gate)
	err := <-first
	assert.True(t, apperr.IsPersistenceError(err))
	assert.ErrorIs(t, err, errFlaky)
	require.NoError(t, <-second)

	stored, _ := f.inbox.Get("1")
	assert.Equal(t, model.StatusResolved, stored.Status)
}

func TestDifferentMessagesProceedConcurrently(t *testing.T) {
	f := newFixture(t, seedMessage("1", model.StatusNew), seedMessage("2", model.StatusNew))
	gate := f.backend.hold("1")

	first := make(chan error, 1)
	go func() {
		_, err := f.engine.Apply(context.Background(), "1", model.StatusInProgress, "")
		first <- err
	}()
	<-f.backend.started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.engine.Apply(ctx, "2", model.StatusResolved, "")
	require.NoError(t, err)

	close(gate)
	require.NoError(t, <-first)
}

func TestKeyedLockCleansUp(t *testing.T) {
	k := newKeyedLock()
	release, err := k.acquire(context.Background(), "a")
	require.NoError(t, err)

	_, ok := k.tryAcquire("a")
	assert.False(t, ok)
	assert.Equal(t, 1, k.size())

	release()
	release()
	assert.Equal(t, 0, k.size())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release, err = k.acquire(ctx, "b")
	require.NoError(t, err, "a free lock is granted even to a finished context")
	release()
	assert.Equal(t, 0, k.size())
}
