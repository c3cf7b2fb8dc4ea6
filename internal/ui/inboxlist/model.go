// Package inboxlist renders the conversation list.
package inboxlist

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/support-inbox/internal/keys"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/theme"
)

// SelectedMessageMsg is sent when a user opens a message.
type SelectedMessageMsg struct {
	MessageID string
}

// Model is the inbox list view component.
type Model struct {
	list           list.Model
	keys           *keys.KeyMap
	all            []model.MessageSummary
	statusFilter   model.Status
	query          string
	staleMailboxes map[string]bool
	searchMode     bool
	searchInput    textinput.Model
	width          int
	height         int
}

// New creates a new inbox list model.
func New(k *keys.KeyMap, width, height int) Model {
	stale := make(map[string]bool)
	l := list.New([]list.Item{}, ItemDelegate{staleMailboxes: stale}, width, height-2)
	l.Title = "Inbox"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search subject or sender..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:           l,
		keys:           k,
		staleMailboxes: stale,
		searchInput:    si,
		width:          width,
		height:         height,
	}
}

// SetMessages replaces the list contents, keeping the current filters.
func (m *Model) SetMessages(msgs []model.MessageSummary) tea.Cmd {
	m.all = msgs
	return m.refilter()
}

// SetStaleMailboxes marks the mailboxes whose last ingestion failed.
func (m *Model) SetStaleMailboxes(ids []string) {
	for k := range m.staleMailboxes {
		delete(m.staleMailboxes, k)
	}
	for _, id := range ids {
		m.staleMailboxes[id] = true
	}
}

// SetStatusFilter shows only messages in status s; empty shows all.
func (m *Model) SetStatusFilter(s model.Status) tea.Cmd {
	m.statusFilter = s
	return m.refilter()
}

// Selected returns the message under the cursor.
func (m Model) Selected() (model.MessageSummary, bool) {
	item, ok := m.list.SelectedItem().(MessageItem)
	if !ok {
		return model.MessageSummary{}, false
	}
	return item.Message, true
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// FilterSummary describes the active filters, or "" when none.
func (m Model) FilterSummary() string {
	var parts []string
	if m.statusFilter != "" {
		parts = append(parts, "status: "+string(m.statusFilter))
	}
	if m.query != "" {
		parts = append(parts, "search: "+m.query)
	}
	return strings.Join(parts, " | ")
}

func (m *Model) refilter() tea.Cmd {
	visible := Filter(m.all, m.statusFilter, m.query)
	items := make([]list.Item, len(visible))
	for i, msg := range visible {
		items[i] = MessageItem{Message: msg}
	}
	return m.list.SetItems(items)
}

// Filter keeps the messages matching status (when set) and whose subject
// or sender contains query, case-insensitively.
func Filter(msgs []model.MessageSummary, status model.Status, query string) []model.MessageSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.MessageSummary, 0, len(msgs))
	for _, msg := range msgs {
		if status != "" && msg.Status != status {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(msg.Subject), q) &&
			!strings.Contains(strings.ToLower(msg.From), q) &&
			!strings.Contains(strings.ToLower(msg.FromAddress), q) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.query = m.searchInput.Value()
		return m, m.refilter()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.query = ""
		return m, m.refilter()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		sel, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMessageMsg{MessageID: sel.ID}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.FilterNew):
		return m, m.SetStatusFilter(model.StatusNew)

	case key.Matches(msg, m.keys.FilterInProgress):
		return m, m.SetStatusFilter(model.StatusInProgress)

	case key.Matches(msg, m.keys.FilterResolved):
		return m, m.SetStatusFilter(model.StatusResolved)

	case key.Matches(msg, m.keys.ClearFilter):
		m.query = ""
		return m, m.SetStatusFilter("")
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list view.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

// renderEmptyState shows guidance text when no messages are visible.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.statusFilter != "" || m.query != "" {
		return style.Render("No matching messages.\nPress 0 to clear filters.")
	}
	if len(m.staleMailboxes) > 0 {
		return style.Render("No messages yet.\nSome mailboxes could not be reached.")
	}
	return style.Render("Inbox is empty.\n\nPress r to check the mailboxes again.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}
