package inboxlist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/theme"
)

// MessageItem wraps a conversation representative for bubbles/list.
type MessageItem struct {
	Message model.MessageSummary
}

// FilterValue returns the string used for fuzzy filtering.
func (i MessageItem) FilterValue() string {
	return i.Message.Subject + " " + i.Message.From
}

// Title returns the subject for the list.
func (i MessageItem) Title() string { return i.Message.Subject }

// Description returns a short summary line for the list.
func (i MessageItem) Description() string {
	parts := []string{
		i.Message.From,
		string(i.Message.Status),
		relativeTime(i.Message.Date, time.Now()),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate renders one message per line.
type ItemDelegate struct {
	// staleMailboxes is shared by reference with the list Model so sync
	// failures show up without rebuilding the delegate.
	staleMailboxes map[string]bool
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single list line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	mi, ok := item.(MessageItem)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(mi.Message, index == m.Index(), time.Now()))
}

func (d ItemDelegate) renderLine(msg model.MessageSummary, selected bool, now time.Time) string {
	marker := " "
	if !msg.Read {
		marker = "●"
	}

	stale := d.staleMailboxes[msg.MailboxID]
	mailbox := msg.MailboxID
	if stale {
		mailbox += " ⚠"
	}
	mailboxBadge := theme.MailboxLabelStyle(stale).Render(mailbox)
	statusBadge := theme.StatusStyle(string(msg.Status)).Render(string(msg.Status))

	labels := ""
	for _, l := range msg.Labels {
		labels += " " + theme.LabelStyle(string(l)).Render("["+string(l)+"]")
	}

	from := msg.From
	if from == "" {
		from = msg.FromAddress
	}
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	if !msg.Read {
		subject = theme.UnreadStyle.Render(subject)
	}

	attach := ""
	if msg.HasAttachments {
		attach = " 📎"
	}

	when := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(msg.Date, now))

	line := fmt.Sprintf("%s %s %s %s · %s%s%s  %s",
		marker, mailboxBadge, statusBadge, from, subject, attach, labels, when)

	if msg.IsTerminal() {
		line = theme.DimmedStyle.Render(line)
	}
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 02")
	}
}
