// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Epoch is the reference time used by Summary.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Summary builds a new, unread message of mailboxID that starts its own
// conversation. Its date is Epoch plus minute minutes, so higher minutes
// sort first.
func Summary(mailboxID string, uid uint32, minute int) model.MessageSummary {
	return model.MessageSummary{
		ID:             model.MessageID(mailboxID, uid),
		ConversationID: model.ConversationID(mailboxID, uid),
		MailboxID:      mailboxID,
		UID:            uid,
		From:           "Jane Doe",
		FromAddress:    "jane@example.com",
		Subject:        "Order question",
		Preview:        "Order question",
		Date:           Epoch.Add(time.Duration(minute) * time.Minute),
		Status:         model.StatusNew,
	}
}
