package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Selection
	Select key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	Search  key.Binding
	Command key.Binding
	Help    key.Binding
	Refresh key.Binding

	// Status filters
	FilterNew        key.Binding
	FilterInProgress key.Binding
	FilterResolved   key.Binding
	ClearFilter      key.Binding

	// Actions on the selected message
	SetStatus key.Binding
	MarkRead  key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open message"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		Command: key.NewBinding(
			key.WithKeys(":"),
			key.WithHelp(":", "command palette"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh mailboxes"),
		),
		FilterNew: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "only new"),
		),
		FilterInProgress: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "only in progress"),
		),
		FilterResolved: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "only resolved"),
		),
		ClearFilter: key.NewBinding(
			key.WithKeys("0"),
			key.WithHelp("0", "all statuses"),
		),
		SetStatus: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "set status"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mark read"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Select, k.Back,
		k.SetStatus, k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back, k.Quit},
		{k.Search, k.Command, k.Help, k.Refresh},
		{k.FilterNew, k.FilterInProgress, k.FilterResolved, k.ClearFilter},
		{k.SetStatus, k.MarkRead},
	}
}
