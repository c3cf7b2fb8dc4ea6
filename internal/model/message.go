package model

import (
	"fmt"
	"time"
)

// MessageSummary is one fetched message as the inbox knows it. It is created
// when an ingestion cycle parses a header and is only mutated through status
// transitions or read-marking.
type MessageSummary struct {
	// ID is the synthetic message identifier, {mailboxId}_{uid}.
	ID string `json:"id"`

	// ConversationID groups messages into a conversation, conv_{mailboxId}_{uid}.
	ConversationID string `json:"conversation_id"`

	// MailboxID is the configured mailbox the message was fetched from.
	MailboxID string `json:"mailbox_id"`

	// UID is the server-assigned unique identifier within the mailbox.
	UID uint32 `json:"uid"`

	// From is the sender display string.
	From string `json:"from"`

	// FromAddress is the bare sender address, possibly empty.
	FromAddress string `json:"from_address"`

	// To holds the decoded recipient addresses.
	To []string `json:"to,omitempty"`

	Subject string `json:"subject"`

	// Preview is short text shown in list views.
	Preview string `json:"preview"`

	// MessageIDHeader is the RFC 5322 Message-Id, kept for future threading.
	MessageIDHeader string `json:"message_id_header,omitempty"`

	Date           time.Time `json:"date"`
	Read           bool      `json:"read"`
	Starred        bool      `json:"starred"`
	HasAttachments bool      `json:"has_attachments"`

	Status Status  `json:"status"`
	Labels []Label `json:"labels,omitempty"`
}

// Clone returns a deep copy so that snapshots never alias slices of the
// original record.
func (m MessageSummary) Clone() MessageSummary {
	c := m
	if m.To != nil {
		c.To = append([]string(nil), m.To...)
	}
	if m.Labels != nil {
		c.Labels = append([]Label(nil), m.Labels...)
	}
	return c
}

// HasLabel reports whether the message carries the given label.
func (m MessageSummary) HasLabel(l Label) bool {
	for _, have := range m.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the message sits in a one-way classification
// (resolved with irrelevant or spam).
func (m MessageSummary) IsTerminal() bool {
	return IsTerminal(m.Status, m.Labels)
}

// MessageID formats the synthetic message identifier.
func MessageID(mailboxID string, uid uint32) string {
	return fmt.Sprintf("%s_%d", mailboxID, uid)
}

// ConversationID formats the synthetic conversation identifier.
func ConversationID(mailboxID string, uid uint32) string {
	return fmt.Sprintf("conv_%s_%d", mailboxID, uid)
}

// Conversation is a derived view over messages sharing a conversation id.
// It is never stored.
type Conversation struct {
	ID             string           `json:"id"`
	Representative MessageSummary   `json:"representative"`
	Messages       []MessageSummary `json:"messages"`
}

// Attachment describes a MIME attachment without its content.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// MessageDetail is the result of an explicit full-content fetch.
type MessageDetail struct {
	MessageSummary

	// Body is the readable text rendering of the message.
	Body string `json:"body"`

	// HTMLBody is the raw HTML part, when present.
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
