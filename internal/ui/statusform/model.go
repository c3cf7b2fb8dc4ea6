// Package statusform is the picker used to change a message's status.
package statusform

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/theme"
)

// StatusChosenMsg is dispatched when the user confirms a status.
type StatusChosenMsg struct {
	MessageID string
	Status    model.Status
	Label     model.Label
}

// CancelMsg is dispatched when the user leaves the picker.
type CancelMsg struct{}

// formBindings keeps the huh value pointer valid across model copies.
type formBindings struct {
	choice string
}

// Choice is one entry of the picker.
type Choice struct {
	Title  string
	Status model.Status
	Label  model.Label
}

func (c Choice) value() string {
	return string(c.Status) + ":" + string(c.Label)
}

// Choices lists the transitions offered for msg. A terminal message only
// offers staying where it is.
func Choices(msg model.MessageSummary) []Choice {
	all := []Choice{
		{Title: "New", Status: model.StatusNew},
		{Title: "In progress", Status: model.StatusInProgress},
		{Title: "Resolved", Status: model.StatusResolved},
		{Title: "Resolved · irrelevant", Status: model.StatusResolved, Label: model.LabelIrrelevant},
		{Title: "Resolved · spam", Status: model.StatusResolved, Label: model.LabelSpam},
	}
	if !msg.IsTerminal() {
		return all
	}
	var out []Choice
	for _, c := range all {
		if c.Status == model.StatusResolved && (c.Label == "" || msg.HasLabel(c.Label)) {
			out = append(out, c)
		}
	}
	return out
}

// Model is the Bubble Tea model for the status picker.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	message model.MessageSummary
	width   int
	height  int
}

// New creates a new status picker.
func New(width, height int) Model {
	return Model{fb: &formBindings{}, width: width, height: height}
}

// Start opens the picker for msg with its current status preselected.
func (m *Model) Start(msg model.MessageSummary) tea.Cmd {
	m.message = msg

	choices := Choices(msg)
	opts := make([]huh.Option[string], len(choices))
	for i, c := range choices {
		opts[i] = huh.NewOption(c.Title, c.value())
	}

	current := Choice{Status: msg.Status}
	if len(msg.Labels) > 0 {
		current.Label = msg.Labels[0]
	}
	m.fb.choice = current.value()

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Status").
				Description(msg.Subject).
				Options(opts...).
				Value(&m.fb.choice),
		),
	).WithWidth(m.formWidth())
	return m.form.Init()
}

// Update handles messages for the picker.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.handleSubmit()
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

func (m Model) handleSubmit() tea.Cmd {
	status, label, _ := strings.Cut(m.fb.choice, ":")
	chosen := StatusChosenMsg{
		MessageID: m.message.ID,
		Status:    model.Status(status),
		Label:     model.Label(label),
	}
	return func() tea.Msg { return chosen }
}

// View renders the picker.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Change status") + "\n" + m.form.View()
	return lipgloss.NewStyle().Padding(1, 2).Render(content)
}

// SetSize updates the picker dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}
