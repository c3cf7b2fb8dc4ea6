package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/inbox"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/ui/detail"
)

// actionTimeout bounds operations started from the UI.
const actionTimeout = 30 * time.Second

// inboxLoadedMsg carries a fresh inbox view.
type inboxLoadedMsg struct {
	view inbox.View
}

// unreadCountMsg carries the number of unread notifications to the UI.
type unreadCountMsg struct {
	count int
}

// eventMsg wraps an event from the bus.
type eventMsg struct {
	event events.Event
}

// statusResultMsg is sent after a status change settles.
type statusResultMsg struct {
	summary model.MessageSummary
	err     error
}

// markReadResultMsg is sent after a message is marked read.
type markReadResultMsg struct {
	summary model.MessageSummary
	err     error
}

// waitForEvent returns a command that delivers the next bus event. It
// must be re-issued after each delivery.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: e}
	}
}

// loadInbox returns a command that reads the current inbox view.
func (m Model) loadInbox() tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		return inboxLoadedMsg{view: svc.ListInbox()}
	}
}

// fetchUnreadCount returns a tea.Cmd that queries the store for the
// number of unread notifications.
func (m Model) fetchUnreadCount() tea.Cmd {
	ns := m.notifications
	if ns == nil {
		return nil
	}
	return func() tea.Msg {
		notifications, err := ns.GetUnreadNotifications(context.Background())
		if err != nil {
			return unreadCountMsg{count: 0}
		}
		return unreadCountMsg{count: len(notifications)}
	}
}

// markNotificationsRead clears the unread notifications.
func (m Model) markNotificationsRead() tea.Cmd {
	ns := m.notifications
	if ns == nil {
		return nil
	}
	return func() tea.Msg {
		ctx := context.Background()
		notifications, err := ns.GetUnreadNotifications(ctx)
		if err != nil {
			return unreadCountMsg{count: 0}
		}
		for _, n := range notifications {
			_ = ns.MarkNotificationRead(ctx, n.ID)
		}
		return unreadCountMsg{count: 0}
	}
}

// loadDetail marks a message read, then fetches its content and
// conversation.
func (m Model) loadDetail(messageID string) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		_, _ = svc.MarkRead(ctx, messageID)

		d, err := svc.SelectMessage(ctx, messageID)
		if err != nil {
			return detail.DetailLoadedMsg{Err: err}
		}
		msg := detail.DetailLoadedMsg{Detail: d}
		if conv, err := svc.GetConversation(ctx, d.ConversationID); err == nil {
			msg.Conversation = &conv
		}
		return msg
	}
}

// setStatus applies a status change through the inbox service.
func (m Model) setStatus(messageID string, next model.Status, label model.Label) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		s, err := svc.SetStatus(ctx, messageID, next, label)
		return statusResultMsg{summary: s, err: err}
	}
}

// markRead marks a message read without opening it.
func (m Model) markRead(messageID string) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		s, err := svc.MarkRead(ctx, messageID)
		return markReadResultMsg{summary: s, err: err}
	}
}

// describeError turns an operation error into a status bar message.
func describeError(action string, err error) string {
	var authErr *apperr.AuthenticationError
	switch {
	case errors.As(err, &authErr):
		return fmt.Sprintf("%s: mailbox %s rejected the credentials", action, authErr.MailboxID)
	case apperr.IsConnectionError(err):
		return fmt.Sprintf("%s: mailbox unreachable (%v)", action, err)
	case apperr.IsTransitionConflict(err):
		return fmt.Sprintf("%s: another change to this message is still pending", action)
	case errors.Is(err, apperr.ErrInvalidTransition):
		return fmt.Sprintf("%s: %v", action, err)
	case apperr.IsPersistenceError(err):
		return fmt.Sprintf("%s: not saved, change was undone (%v)", action, err)
	default:
		return fmt.Sprintf("%s: %v", action, err)
	}
}
