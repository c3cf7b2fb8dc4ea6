package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/model"
)

// Inbox is the in-process collection of message summaries. It is a cache:
// it starts empty or seeded, is replaced by ingestion and is patched by
// status operations. Every mutation holds the write lock, so readers never
// observe a half-applied replace.
type Inbox struct {
	mu   sync.RWMutex
	byID map[string]model.MessageSummary
}

// NewInbox creates an inbox holding copies of seed.
func NewInbox(seed ...model.MessageSummary) *Inbox {
	in := &Inbox{byID: make(map[string]model.MessageSummary, len(seed))}
	for _, m := range seed {
		in.byID[m.ID] = m.Clone()
	}
	return in
}

// ReplaceAll swaps the entire collection.
func (in *Inbox) ReplaceAll(msgs []model.MessageSummary) {
	next := make(map[string]model.MessageSummary, len(msgs))
	for _, m := range msgs {
		next[m.ID] = m.Clone()
	}

	in.mu.Lock()
	in.byID = next
	in.mu.Unlock()
}

// ReplaceMailbox swaps the records of one mailbox and leaves the others
// alone. It returns the ids that were not present before.
func (in *Inbox) ReplaceMailbox(mailboxID string, msgs []model.MessageSummary) []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	prev := make(map[string]bool)
	for id, m := range in.byID {
		if m.MailboxID == mailboxID {
			prev[id] = true
			delete(in.byID, id)
		}
	}

	var added []string
	for _, m := range msgs {
		if !prev[m.ID] {
			added = append(added, m.ID)
		}
		in.byID[m.ID] = m.Clone()
	}
	return added
}

// Patch applies mutate to a copy of the record and stores the result. The
// id cannot be changed by mutate.
func (in *Inbox) Patch(id string, mutate func(*model.MessageSummary)) (model.MessageSummary, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	cur, ok := in.byID[id]
	if !ok {
		return model.MessageSummary{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}

	next := cur.Clone()
	mutate(&next)
	next.ID = id
	in.byID[id] = next
	return next.Clone(), nil
}

// Get returns a copy of one record.
func (in *Inbox) Get(id string) (model.MessageSummary, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()

	m, ok := in.byID[id]
	if !ok {
		return model.MessageSummary{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	return m.Clone(), nil
}

// Snapshot returns copies of all records, newest first. Equal timestamps
// are ordered by id so the result is stable.
func (in *Inbox) Snapshot() []model.MessageSummary {
	in.mu.RLock()
	out := make([]model.MessageSummary, 0, len(in.byID))
	for _, m := range in.byID {
		out = append(out, m.Clone())
	}
	in.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of records.
func (in *Inbox) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.byID)
}

// DemoMailboxID is the mailbox id used by DemoSeed.
const DemoMailboxID = "demo"

// DemoSeed returns a fixed set of messages for installs without a
// configured mailbox.
func DemoSeed(now time.Time) []model.MessageSummary {
	type row struct {
		uid     uint32
		from    string
		addr    string
		subject string
		age     time.Duration
		read    bool
		status  model.Status
		attach  bool
	}
	rows := []row{
		{1, "Jane Doe", "jane@example.com", "Cannot log in after password reset", 5 * time.Minute, false, model.StatusNew, false},
		{2, "Acme Billing", "billing@acme.test", "Invoice #4411 charged twice", 2 * time.Hour, true, model.StatusInProgress, true},
		{3, "Ravi Patel", "ravi@example.org", "Feature request: export to CSV", 26 * time.Hour, true, model.StatusResolved, false},
		{4, "Promo Bot", "deals@promo.test", "You won a cruise!!!", 50 * time.Hour, false, model.StatusNew, false},
	}

	out := make([]model.MessageSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.MessageSummary{
			ID:             model.MessageID(DemoMailboxID, r.uid),
			ConversationID: model.ConversationID(DemoMailboxID, r.uid),
			MailboxID:      DemoMailboxID,
			UID:            r.uid,
			From:           r.from,
			FromAddress:    r.addr,
			Subject:        r.subject,
			Preview:        r.subject,
			Date:           now.Add(-r.age),
			Read:           r.read,
			Status:         r.status,
			HasAttachments: r.attach,
		})
	}
	return out
}
