package model

import (
	"fmt"
	"time"
)

// Status is the workflow state of a message.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

// Label is an orthogonal classification that may accompany StatusResolved.
type Label string

const (
	LabelIrrelevant Label = "irrelevant"
	LabelSpam       Label = "spam"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusNew, StatusInProgress, StatusResolved}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	return l == LabelIrrelevant || l == LabelSpam
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// ParseLabel converts user input into a Label. An empty string yields an
// empty label.
func ParseLabel(s string) (Label, error) {
	if s == "" {
		return "", nil
	}
	l := Label(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown label %q", s)
	}
	return l, nil
}

// IsTerminal reports whether the combination cannot be left again.
func IsTerminal(s Status, labels []Label) bool {
	if s != StatusResolved {
		return false
	}
	for _, l := range labels {
		if l == LabelIrrelevant || l == LabelSpam {
			return true
		}
	}
	return false
}

// InitialStatus maps the server-side seen flag to a default status for
// messages this system has not classified yet.
func InitialStatus(seen bool) Status {
	if seen {
		return StatusResolved
	}
	return StatusNew
}

// StatusRecord is an explicit status decision as held by the authoritative
// backend.
type StatusRecord struct {
	MessageID      string
	ConversationID string
	MailboxID      string
	Status         Status
	Labels         []Label
	UpdatedAt      time.Time
}

// StatusRecordFor captures the status fields of m.
func StatusRecordFor(m MessageSummary, at time.Time) StatusRecord {
	return StatusRecord{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		MailboxID:      m.MailboxID,
		Status:         m.Status,
		Labels:         append([]Label(nil), m.Labels...),
		UpdatedAt:      at,
	}
}
