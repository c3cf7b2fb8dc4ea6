package store

import (
	"context"

	"github.com/nhle/support-inbox/internal/model"
)

// StatusStore is the authoritative record of explicit status decisions.
type StatusStore interface {
	SaveStatus(ctx context.Context, rec model.StatusRecord) error
	LoadStatuses(ctx context.Context, mailboxID string) (map[string]model.StatusRecord, error)
}

// NotificationStore persists operator notifications.
type NotificationStore interface {
	// CreateNotification stores n unless a notification for the same
	// message already exists. It reports whether a row was written.
	CreateNotification(ctx context.Context, n model.Notification) (bool, error)
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Store defines the durable persistence used next to the in-memory Inbox.
type Store interface {
	StatusStore
	NotificationStore
	Close() error
}
