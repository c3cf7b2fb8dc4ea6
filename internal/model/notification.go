package model

import "time"

// Notification represents an alert surfaced to the operator about a
// message that appeared in a mailbox since the previous ingestion cycle.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// MessageID links this notification to the originating message.
	MessageID string `json:"message_id" db:"message_id"`

	// MailboxID identifies which mailbox generated this notification.
	MailboxID string `json:"mailbox_id" db:"mailbox_id"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
