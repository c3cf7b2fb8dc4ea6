package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/support-inbox/internal/theme"
)

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// Commands lists what the palette understands, for the hint line.
var Commands = []string{"refresh", "new", "in-progress", "resolved", "all", "notifications", "quit"}

// Complete returns the only command starting with prefix.
func Complete(prefix string) (string, bool) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", false
	}
	var match string
	for _, c := range Commands {
		if strings.HasPrefix(c, prefix) {
			if match != "" {
				return "", false
			}
			match = c
		}
	}
	return match, match != ""
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			cmd := strings.ToLower(strings.TrimSpace(m.input.Value()))
			m.input.Reset()
			if cmd == "" {
				return m, nil
			}
			return m, func() tea.Msg { return CommandMsg(cmd) }
		case tea.KeyTab:
			if c, ok := Complete(m.input.Value()); ok {
				m.input.SetValue(c)
				m.input.CursorEnd()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Command Palette"),
		m.input.View(),
		"",
		theme.HelpStyle.Render(strings.Join(Commands, " · ")),
	)

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 0)).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
