package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/inbox"
	"github.com/nhle/support-inbox/internal/keys"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
	appsync "github.com/nhle/support-inbox/internal/sync"
	"github.com/nhle/support-inbox/internal/ui"
	"github.com/nhle/support-inbox/internal/ui/command"
	"github.com/nhle/support-inbox/internal/ui/detail"
	helpview "github.com/nhle/support-inbox/internal/ui/help"
	"github.com/nhle/support-inbox/internal/ui/inboxlist"
	"github.com/nhle/support-inbox/internal/ui/statusform"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewStatus
	ViewHelp
	ViewCommand
)

// Syncer is the part of the poller the UI drives. *appsync.Poller
// satisfies it.
type Syncer interface {
	RefreshAll()
	Stop()
	GetStatuses() []appsync.SyncStatus
}

// Deps wires the root model.
type Deps struct {
	Service *inbox.Service
	// Syncer and Notifications may be nil for an offline inbox.
	Syncer        Syncer
	Notifications store.NotificationStore
	Bus           *events.Bus
}

// Model is the root Bubble Tea model that manages view routing,
// layout, and access to the inbox service.
type Model struct {
	currentView   ViewState
	previousView  ViewState
	layout        ui.Layout
	service       *inbox.Service
	syncer        Syncer
	notifications store.NotificationStore
	events        <-chan events.Event
	unsubscribe   func()
	keys          *keys.KeyMap
	list          inboxlist.Model
	detail        detail.Model
	statusForm    statusform.Model
	helpView      helpview.Model
	commandView   command.Model
	ready         bool
	unreadCount   int
	warning       string
}

// New creates a new root application model.
func New(d Deps) Model {
	k := keys.DefaultKeyMap()
	m := Model{
		currentView:   ViewList,
		service:       d.Service,
		syncer:        d.Syncer,
		notifications: d.Notifications,
		keys:          k,
		list:          inboxlist.New(k, 80, 24),
		detail:        detail.New(k, 80, 24),
		statusForm:    statusform.New(80, 24),
		helpView:      helpview.New(k, 80, 24),
		commandView:   command.New(80, 24),
	}
	if d.Bus != nil {
		m.events, m.unsubscribe = d.Bus.Subscribe()
	}
	return m
}

// Init loads the inbox and starts listening for bus events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadInbox(),
		m.fetchUnreadCount(),
		waitForEvent(m.events),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.list.SetSize(contentWidth, contentHeight)
		m.detail.SetSize(contentWidth, contentHeight)
		m.statusForm.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case eventMsg:
		return m.handleEvent(msg.event)

	case inboxLoadedMsg:
		stale := make([]string, 0, len(msg.view.Stale))
		for _, s := range msg.view.Stale {
			stale = append(stale, s.MailboxID)
		}
		m.list.SetStaleMailboxes(stale)
		m.refreshDetailSummary(msg.view.Conversations)
		return m, m.list.SetMessages(msg.view.Conversations)

	case unreadCountMsg:
		m.unreadCount = msg.count
		return m, nil

	case inboxlist.SelectedMessageMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetLoading(true)
		return m, m.loadDetail(msg.MessageID)

	case detail.DetailLoadedMsg:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		// Opening marks the message read.
		return m, tea.Batch(cmd, m.loadInbox())

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case detail.StatusRequestMsg:
		return m, m.openStatusForm(msg.Message)

	case statusform.StatusChosenMsg:
		m.currentView = m.previousView
		return m, m.setStatus(msg.MessageID, msg.Status, msg.Label)

	case statusform.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case statusResultMsg:
		if msg.err != nil {
			m.warning = describeError("status", msg.err)
		} else {
			m.warning = ""
			m.detail.UpdateSummary(msg.summary)
		}
		return m, m.loadInbox()

	case markReadResultMsg:
		if msg.err != nil {
			m.warning = describeError("mark read", msg.err)
			return m, nil
		}
		return m, m.loadInbox()

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case tea.KeyMsg:
		// The status picker and command palette own every key but ctrl+c.
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.currentView == ViewStatus {
			break
		}
		if m.currentView == ViewList && m.list.Searching() {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewList {
				return m, m.quit()
			}

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewCommand {
				break
			}
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Command):
			if m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp || m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}

		case key.Matches(msg, m.keys.Refresh):
			if m.currentView == ViewList {
				m.refresh()
				return m, m.loadInbox()
			}

		case key.Matches(msg, m.keys.SetStatus):
			if m.currentView == ViewList {
				if sel, ok := m.list.Selected(); ok {
					return m, m.openStatusForm(sel)
				}
				return m, nil
			}

		case key.Matches(msg, m.keys.MarkRead):
			if m.currentView == ViewList {
				if sel, ok := m.list.Selected(); ok && !sel.Read {
					return m, m.markRead(sel.ID)
				}
				return m, nil
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleEvent reacts to a bus event and re-arms the subscription.
func (m Model) handleEvent(e events.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitForEvent(m.events)}

	switch e := e.(type) {
	case events.IngestionCompleted:
		if e.Err != nil {
			m.warning = describeError("sync", e.Err)
		} else if strings.HasPrefix(m.warning, "sync:") {
			m.warning = ""
		}
		cmds = append(cmds, m.loadInbox(), m.fetchUnreadCount())

	case events.StatusSettled:
		if e.Outcome == events.OutcomeRolledBack {
			m.warning = describeError(fmt.Sprintf("status of %s", e.MessageID), e.Err)
		}
		cmds = append(cmds, m.loadInbox())
	}

	return m, tea.Batch(cmds...)
}

// refreshDetailSummary keeps the open message's status and read flag in
// step with the inbox.
func (m *Model) refreshDetailSummary(msgs []model.MessageSummary) {
	id := m.detail.CurrentID()
	if id == "" {
		return
	}
	for _, s := range msgs {
		if s.ID == id {
			m.detail.UpdateSummary(s)
			return
		}
	}
}

func (m *Model) openStatusForm(msg model.MessageSummary) tea.Cmd {
	m.previousView = m.currentView
	m.currentView = ViewStatus
	return m.statusForm.Start(msg)
}

func (m *Model) refresh() {
	if m.syncer != nil {
		m.syncer.RefreshAll()
	}
}

func (m *Model) quit() tea.Cmd {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.syncer != nil {
		m.syncer.Stop()
	}
	return tea.Quit
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewStatus:
		m.statusForm, cmd = m.statusForm.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	headerTitle := "Support Inbox"
	if m.unreadCount > 0 {
		headerTitle = fmt.Sprintf("Support Inbox [%d new]", m.unreadCount)
	}
	header := m.layout.RenderHeader(headerTitle, m.syncStatus())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.warning)

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.list.View()
	case ViewDetail:
		return m.detail.View()
	case ViewStatus:
		return m.statusForm.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// syncStatus returns a short string describing the combined sync state.
func (m Model) syncStatus() string {
	if m.syncer == nil {
		return "offline"
	}
	statuses := m.syncer.GetStatuses()
	if len(statuses) == 0 {
		return "no mailboxes"
	}

	running := 0
	var staleNames []string
	for _, s := range statuses {
		switch s.State {
		case appsync.SyncRunning:
			running++
		case appsync.SyncError:
			staleNames = append(staleNames, s.Name)
		}
	}

	if running > 0 {
		return fmt.Sprintf("syncing (%d)", running)
	}
	if len(staleNames) > 0 {
		return "⚠ unreachable: " + strings.Join(staleNames, ", ")
	}
	return "idle"
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return ": close command | tab complete | enter execute | esc back"
	case ViewStatus:
		return "enter confirm | esc cancel"
	case ViewDetail:
		return "esc back | s status | j/k scroll"
	default:
		if summary := m.list.FilterSummary(); summary != "" {
			return summary + " | 0 clear"
		}
		return "q quit | ? help | / search | s status | m read | r refresh | 1-3 filter"
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case "refresh", "sync":
		m.refresh()
		return m.loadInbox()
	case "quit", "q":
		return m.quit()
	case "new":
		return m.list.SetStatusFilter(model.StatusNew)
	case "in-progress":
		return m.list.SetStatusFilter(model.StatusInProgress)
	case "resolved":
		return m.list.SetStatusFilter(model.StatusResolved)
	case "all", "clear":
		return m.list.SetStatusFilter("")
	case "notifications", "read notifications":
		return m.markNotificationsRead()
	default:
		m.warning = fmt.Sprintf("unknown command %q", cmd)
		return nil
	}
}
