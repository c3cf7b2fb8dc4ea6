package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
	"github.com/nhle/support-inbox/tests/testutil"
)

// fakeFetcher serves canned results per mailbox.
type fakeFetcher struct {
	mu      gosync.Mutex
	results map[string][]model.MessageSummary
	errs    map[string]error
	calls   map[string]int
	windows []int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string][]model.MessageSummary),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) set(mailboxID string, msgs []model.MessageSummary, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[mailboxID] = msgs
	f.errs[mailboxID] = err
}

func (f *fakeFetcher) callCount(mailboxID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[mailboxID]
}

func (f *fakeFetcher) FetchRecent(
	ctx context.Context,
	cfg model.ConnectionConfig,
	window int,
) ([]model.MessageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cfg.MailboxID]++
	f.windows = append(f.windows, window)
	if err := f.errs[cfg.MailboxID]; err != nil {
		return nil, err
	}
	out := make([]model.MessageSummary, len(f.results[cfg.MailboxID]))
	for i, m := range f.results[cfg.MailboxID] {
		out[i] = m.Clone()
	}
	return out, nil
}

func msg(mailboxID string, uid uint32, st model.Status) model.MessageSummary {
	m := testutil.Summary(mailboxID, uid, int(uid))
	m.Status = st
	return m
}

func mailboxCfg(id string) model.MailboxConfig {
	return model.MailboxConfig{ID: id, Host: "imap.example.com", Encryption: "tls", Enabled: true}
}

type pollerFixture struct {
	fetcher *fakeFetcher
	inbox   *store.Inbox
	store   *store.SQLiteStore
	events  <-chan events.Event
	poller  *Poller
}

func newPollerFixture(t *testing.T, mailboxIDs ...string) *pollerFixture {
	t.Helper()

	st := testutil.NewTestStore(t)

	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	f := &pollerFixture{
		fetcher: newFakeFetcher(),
		inbox:   store.NewInbox(),
		store:   st,
		events:  ch,
	}
	f.poller = New(f.fetcher, f.inbox, st, bus, Options{WindowSize: 20}, zerolog.Nop())
	for _, id := range mailboxIDs {
		require.NoError(t, f.poller.RegisterMailbox(mailboxCfg(id)))
	}
	return f
}

func (f *pollerFixture) ingestions() []events.IngestionCompleted {
	var out []events.IngestionCompleted
	for {
		select {
		case e := <-f.events:
			if ic, ok := e.(events.IngestionCompleted); ok {
				out = append(out, ic)
			}
		default:
			return out
		}
	}
}

func (f *pollerFixture) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-f.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSyncOnceReplacesMailboxPartition(t *testing.T) {
	f := newPollerFixture(t, "support", "billing")
	f.fetcher.set("support", []model.MessageSummary{msg("support", 1, model.StatusNew), msg("support", 2, model.StatusNew)}, nil)
	f.fetcher.set("billing", []model.MessageSummary{msg("billing", 1, model.StatusResolved)}, nil)

	require.NoError(t, f.poller.SyncOnce(context.Background()))
	assert.Equal(t, 3, f.inbox.Len())
	assert.Equal(t, []int{20, 20}, f.fetcher.windows)

	// A later cycle drops messages that left the window.
	f.fetcher.set("support", []model.MessageSummary{msg("support", 2, model.StatusNew)}, nil)
	require.NoError(t, f.poller.SyncOnce(context.Background()))
	assert.Equal(t, 2, f.inbox.Len())
	_, err := f.inbox.Get("support_1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, s := range f.poller.GetStatuses() {
		assert.Equal(t, SyncIdle, s.State)
		assert.False(t, s.LastSync.IsZero())
	}
}

func TestFailedIngestionKeepsStaleRecords(t *testing.T) {
	f := newPollerFixture(t, "support", "billing")
	f.fetcher.set("support", []model.MessageSummary{msg("support", 1, model.StatusNew)}, nil)
	f.fetcher.set("billing", []model.MessageSummary{msg("billing", 1, model.StatusNew)}, nil)
	require.NoError(t, f.poller.SyncOnce(context.Background()))
	f.ingestions()

	down := &apperr.ConnectionError{MailboxID: "support", Op: "connect", Err: errors.New("refused")}
	f.fetcher.set("support", nil, down)
	f.fetcher.set("billing", []model.MessageSummary{msg("billing", 1, model.StatusNew), msg("billing", 2, model.StatusNew)}, nil)

	err := f.poller.SyncOnce(context.Background())
	assert.True(t, apperr.IsConnectionError(err))

	_, err = f.inbox.Get("support_1")
	assert.NoError(t, err, "stale record must survive a failed cycle")
	assert.Equal(t, 3, f.inbox.Len())

	statuses := f.poller.GetStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "support", statuses[0].MailboxID)
	assert.True(t, statuses[0].Stale())
	assert.False(t, statuses[1].Stale())

	var failed int
	for _, ic := range f.ingestions() {
		if ic.Err != nil {
			failed++
			assert.Equal(t, "support", ic.MailboxID)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestPersistedStatusesOverlayHeuristic(t *testing.T) {
	f := newPollerFixture(t, "support")
	ctx := context.Background()

	spam := msg("support", 1, model.StatusResolved)
	spam.Labels = []model.Label{model.LabelSpam}
	require.NoError(t, f.store.SaveStatus(ctx, model.StatusRecordFor(spam, time.Now())))
	require.NoError(t, f.store.SaveStatus(ctx, model.StatusRecordFor(msg("support", 2, model.StatusInProgress), time.Now())))

	// The server reports both as unread.
	f.fetcher.set("support", []model.MessageSummary{msg("support", 1, model.StatusNew), msg("support", 2, model.StatusNew)}, nil)
	require.NoError(t, f.poller.SyncOnce(ctx))

	got, err := f.inbox.Get("support_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)
	assert.Equal(t, []model.Label{model.LabelSpam}, got.Labels)

	got, err = f.inbox.Get("support_2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
}

func TestReadFlagDoesNotChangeKnownMessageStatus(t *testing.T) {
	f := newPollerFixture(t, "support")
	ctx := context.Background()

	f.fetcher.set("support", []model.MessageSummary{msg("support", 1, model.StatusNew)}, nil)
	require.NoError(t, f.poller.SyncOnce(ctx))

	// Marked read by the operator: the server now reports \Seen, which the
	// summary parser maps to resolved.
	seen := msg("support", 1, model.StatusResolved)
	seen.Read = true
	f.fetcher.set("support", []model.MessageSummary{seen}, nil)
	require.NoError(t, f.poller.SyncOnce(ctx))

	got, err := f.inbox.Get("support_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, got.Status)
	assert.True(t, got.Read)

	for _, e := range f.drain() {
		_, settled := e.(events.StatusSettled)
		assert.False(t, settled, "ingestion must not settle a transition")
	}
}

func TestNotificationsOnlyForNewUnhandledMessages(t *testing.T) {
	f := newPollerFixture(t, "support")
	ctx := context.Background()

	f.fetcher.set("support", []model.MessageSummary{msg("support", 1, model.StatusNew), msg("support", 2, model.StatusResolved)}, nil)
	require.NoError(t, f.poller.SyncOnce(ctx))

	notes, err := f.store.GetUnreadNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "support_1", notes[0].MessageID)

	f.fetcher.set("support", []model.MessageSummary{
		msg("support", 1, model.StatusNew),
		msg("support", 2, model.StatusResolved),
		msg("support", 3, model.StatusNew),
	}, nil)
	require.NoError(t, f.poller.SyncOnce(ctx))

	notes, err = f.store.GetUnreadNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	ingestions := f.ingestions()
	require.Len(t, ingestions, 2)
	assert.Equal(t, []string{"support_3"}, ingestions[1].NewIDs)
}

func TestRefreshTriggersIngestion(t *testing.T) {
	f := newPollerFixture(t, "support")
	f.fetcher.set("support", []model.MessageSummary{msg("support", 1, model.StatusNew)}, nil)

	f.poller.Start()
	t.Cleanup(f.poller.Stop)

	require.Eventually(t, func() bool { return f.fetcher.callCount("support") == 1 },
		time.Second, 5*time.Millisecond, "initial fetch")

	f.poller.Refresh("support")
	require.Eventually(t, func() bool { return f.fetcher.callCount("support") == 2 },
		time.Second, 5*time.Millisecond, "refresh fetch")

	f.poller.Refresh("unknown")
	f.poller.RefreshAll()
	require.Eventually(t, func() bool { return f.fetcher.callCount("support") == 3 },
		time.Second, 5*time.Millisecond, "refresh all")
}

func TestRegisterMailboxRejectsBadConfig(t *testing.T) {
	f := newPollerFixture(t, "support")

	assert.Error(t, f.poller.RegisterMailbox(mailboxCfg("support")), "duplicate id")

	bad := mailboxCfg("other")
	bad.Encryption = "rot13"
	assert.Error(t, f.poller.RegisterMailbox(bad))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newPollerFixture(t, "support")
	f.poller.Start()
	f.poller.Stop()
	f.poller.Stop()
}
