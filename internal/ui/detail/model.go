package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/support-inbox/internal/keys"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// DetailLoadedMsg carries the loaded message and its conversation. Err is
// set when the full content could not be fetched.
type DetailLoadedMsg struct {
	Detail       *model.MessageDetail
	Conversation *model.Conversation
	Err          error
}

// StatusRequestMsg asks the parent to open the status picker.
type StatusRequestMsg struct {
	Message model.MessageSummary
}

// Model is the message detail view component.
type Model struct {
	message      *model.MessageDetail
	conversation *model.Conversation
	err          error
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int
	loading      bool
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case DetailLoadedMsg:
		m.SetMessage(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg {
				return BackMsg{}
			}

		case key.Matches(msg, m.keys.SetStatus):
			if m.message != nil {
				summary := m.message.MessageSummary
				return m, func() tea.Msg {
					return StatusRequestMsg{Message: summary}
				}
			}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	centered := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case m.loading:
		return centered.Render("Fetching message...")
	case m.err != nil:
		return centered.Foreground(theme.ColorRed).Render("Could not load message:\n" + m.err.Error())
	case m.message == nil:
		return centered.Render("No message selected")
	}
	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.message == nil {
		return ""
	}

	msg := m.message
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	sections = append(sections, titleStyle.Render(subject))

	badges := []string{theme.StatusStyle(string(msg.Status)).Render(string(msg.Status))}
	for _, l := range msg.Labels {
		badges = append(badges, theme.LabelStyle(string(l)).Render("["+string(l)+"]"))
	}
	sections = append(sections, strings.Join(badges, "  "), "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(name, value string) {
		if value == "" {
			return
		}
		sections = append(sections, fmt.Sprintf("%s %s",
			metaStyle.Render(fmt.Sprintf("%-9s", name+":")), valStyle.Render(value)))
	}

	from := msg.From
	if msg.FromAddress != "" && msg.FromAddress != msg.From {
		from = fmt.Sprintf("%s <%s>", msg.From, msg.FromAddress)
	}
	row("From", from)
	row("To", strings.Join(msg.To, ", "))
	if !msg.Date.IsZero() {
		row("Date", msg.Date.Local().Format("2006-01-02 15:04"))
	}
	row("Mailbox", msg.MailboxID)

	if len(msg.Attachments) > 0 {
		names := make([]string, len(msg.Attachments))
		for i, a := range msg.Attachments {
			names[i] = a.Filename
		}
		row("Files", strings.Join(names, ", "))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No readable content")
	}
	sections = append(sections, lipgloss.NewStyle().Width(max(m.width-2, 20)).Render(body))

	if m.conversation != nil && len(m.conversation.Messages) > 1 {
		sections = append(sections, "", separator, "")
		sections = append(sections, titleStyle.Render(
			fmt.Sprintf("Conversation (%d)", len(m.conversation.Messages))))
		for _, other := range m.conversation.Messages {
			line := fmt.Sprintf("%s  %s  %s",
				other.Date.Local().Format("Jan 02 15:04"), other.From, other.Subject)
			if other.ID == msg.ID {
				line = lipgloss.NewStyle().Bold(true).Render("> " + line)
			} else {
				line = "  " + line
			}
			sections = append(sections, line)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetMessage shows a loaded message.
func (m *Model) SetMessage(msg DetailLoadedMsg) {
	m.message = msg.Detail
	m.conversation = msg.Conversation
	m.err = msg.Err
	m.loading = false
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// UpdateSummary refreshes the header fields after a status change without
// refetching the body.
func (m *Model) UpdateSummary(s model.MessageSummary) {
	if m.message == nil || m.message.ID != s.ID {
		return
	}
	m.message.MessageSummary = s
	m.viewport.SetContent(m.renderContent())
}

// CurrentID returns the id of the displayed message, or "".
func (m Model) CurrentID() string {
	if m.message == nil {
		return ""
	}
	return m.message.ID
}

// SetLoading sets the loading state.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
	if loading {
		m.err = nil
	}
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.message != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
