package app

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/inbox"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/status"
	"github.com/nhle/support-inbox/internal/store"
	appsync "github.com/nhle/support-inbox/internal/sync"
	"github.com/nhle/support-inbox/internal/ui/command"
	"github.com/nhle/support-inbox/internal/ui/statusform"
	"github.com/nhle/support-inbox/tests/testutil"
)

type fakeSyncer struct {
	statuses  []appsync.SyncStatus
	refreshed int
	stopped   int
}

func (f *fakeSyncer) RefreshAll() { f.refreshed++ }
func (f *fakeSyncer) Stop() { f.stopped++ }
func (f *fakeSyncer) GetStatuses() []appsync.SyncStatus { return f.statuses }

type fixture struct {
	inbox  *store.Inbox
	store  *store.SQLiteStore
	syncer *fakeSyncer
	bus    *events.Bus
}

func newModel(t *testing.T) (Model, *fixture) {
	t.Helper()
	st := testutil.NewTestStore(t)

	f := &fixture{
		inbox:  store.NewInbox(store.DemoSeed(time.Now())...),
		store:  st,
		syncer: &fakeSyncer{},
		bus:    events.NewBus(),
	}
	engine := status.NewEngine(f.inbox, st, f.bus, nil, zerolog.Nop())
	svc := inbox.NewService(inbox.Config{
		Inbox:  f.inbox,
		Engine: engine,
		Logger: zerolog.Nop(),
	})

	m := New(Deps{Service: svc, Syncer: f.syncer, Notifications: st, Bus: f.bus})
	t.Cleanup(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
	})

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)
	next, _ = m.Update(m.loadInbox()())
	return next.(Model), f
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewShowsHeaderAndList(t *testing.T) {
	m, _ := newModel(t)

	out := m.View()
	assert.Contains(t, out, "Support Inbox")
	assert.Contains(t, out, "Cannot log in after password reset")
	assert.Contains(t, out, "no mailboxes")
}

func TestStatusKeyOpensPickerAndAppliesChoice(t *testing.T) {
	m, f := newModel(t)

	next, _ := m.Update(keyMsg("s"))
	m = next.(Model)
	require.Equal(t, ViewStatus, m.currentView)

	next, cmd := m.Update(statusform.StatusChosenMsg{
		MessageID: "demo_1",
		Status:    model.StatusInProgress,
	})
	m = next.(Model)
	assert.Equal(t, ViewList, m.currentView)
	require.NotNil(t, cmd)

	res, ok := cmd().(statusResultMsg)
	require.True(t, ok)
	require.NoError(t, res.err)
	assert.Equal(t, model.StatusInProgress, res.summary.Status)

	got, err := f.inbox.Get("demo_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
}

func TestRejectedTransitionShowsWarning(t *testing.T) {
	m, _ := newModel(t)

	next, _ := m.Update(statusResultMsg{err: apperr.ErrInvalidTransition})
	m = next.(Model)
	assert.Contains(t, m.warning, "status:")
	assert.Contains(t, m.View(), "invalid status transition")
}

func TestMarkReadKey(t *testing.T) {
	m, f := newModel(t)

	_, cmd := m.Update(keyMsg("m"))
	require.NotNil(t, cmd)
	res, ok := cmd().(markReadResultMsg)
	require.True(t, ok)
	require.NoError(t, res.err)

	got, err := f.inbox.Get("demo_1")
	require.NoError(t, err)
	assert.True(t, got.Read)
}

func TestIngestionFailureMarksMailboxStale(t *testing.T) {
	m, f := newModel(t)
	f.syncer.statuses = []appsync.SyncStatus{{
		MailboxID: "support",
		Name:      "Support",
		State:     appsync.SyncError,
		Error:     errors.New("dial tcp: timeout"),
	}}

	next, cmd := m.Update(eventMsg{event: events.IngestionCompleted{
		MailboxID: "support",
		Err:       &apperr.ConnectionError{MailboxID: "support", Op: "connect", Err: errors.New("dial tcp: timeout")},
	}})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.warning, "mailbox unreachable")
	assert.Contains(t, m.syncStatus(), "unreachable: Support")

	next, _ = m.Update(eventMsg{event: events.IngestionCompleted{MailboxID: "support", Count: 3}})
	m = next.(Model)
	assert.Empty(t, m.warning)
}

func TestRolledBackTransitionShowsWarning(t *testing.T) {
	m, _ := newModel(t)

	next, _ := m.Update(eventMsg{event: events.StatusSettled{
		MessageID: "demo_2",
		Status:    model.StatusResolved,
		Outcome:   events.OutcomeRolledBack,
		Err:       &apperr.PersistenceError{MessageID: "demo_2", Err: errors.New("disk full")},
	}})
	m = next.(Model)
	assert.Contains(t, m.warning, "status of demo_2")
	assert.Contains(t, m.warning, "change was undone")
}

func TestCommandPalette(t *testing.T) {
	m, f := newModel(t)

	next, _ := m.Update(command.CommandMsg("new"))
	m = next.(Model)
	assert.Equal(t, "status: new", m.list.FilterSummary())

	next, _ = m.Update(command.CommandMsg("refresh"))
	m = next.(Model)
	assert.Equal(t, 1, f.syncer.refreshed)

	next, _ = m.Update(command.CommandMsg("frobnicate"))
	m = next.(Model)
	assert.Contains(t, m.warning, "unknown command")
}

func TestQuitStopsPoller(t *testing.T) {
	m, f := newModel(t)

	_, cmd := m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, 1, f.syncer.stopped)
}

func TestUnreadNotificationCount(t *testing.T) {
	m, f := newModel(t)
	_, err := f.store.CreateNotification(t.Context(), model.Notification{
		ID:        "n1",
		MailboxID: "demo",
		MessageID: "demo_1",
		Message:   "New message",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	next, _ := m.Update(m.fetchUnreadCount()())
	m = next.(Model)
	assert.Equal(t, 1, m.unreadCount)
	assert.Contains(t, m.View(), "[1 new]")

	next, _ = m.Update(m.markNotificationsRead()())
	m = next.(Model)
	assert.Equal(t, 0, m.unreadCount)
}
