package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/nhle/support-inbox/internal/inbox"
	"github.com/nhle/support-inbox/internal/model"
)

// inboxOutput is the JSON document printed by -fetch.
type inboxOutput struct {
	Conversations []model.MessageSummary `json:"conversations"`
	Stale         []staleMailbox         `json:"stale,omitempty"`
}

type staleMailbox struct {
	MailboxID string    `json:"mailbox_id"`
	Name      string    `json:"name"`
	LastSync  time.Time `json:"last_sync,omitzero"`
	Error     string    `json:"error"`
}

func newInboxOutput(v inbox.View) inboxOutput {
	out := inboxOutput{Conversations: v.Conversations}
	if out.Conversations == nil {
		out.Conversations = []model.MessageSummary{}
	}
	for _, s := range v.Stale {
		sm := staleMailbox{MailboxID: s.MailboxID, Name: s.Name, LastSync: s.LastSync}
		if s.Error != nil {
			sm.Error = s.Error.Error()
		}
		out.Stale = append(out.Stale, sm)
	}
	return out
}

// parseStatusArg splits "id=status[:label]".
func parseStatusArg(arg string) (string, model.Status, model.Label, error) {
	id, rest, ok := strings.Cut(arg, "=")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", "", "", fmt.Errorf("set-status %q: want id=status[:label]", arg)
	}

	statusPart, labelPart, _ := strings.Cut(strings.TrimSpace(rest), ":")
	st, err := model.ParseStatus(statusPart)
	if err != nil {
		return "", "", "", fmt.Errorf("set-status %q: %w", arg, err)
	}
	label, err := model.ParseLabel(labelPart)
	if err != nil {
		return "", "", "", fmt.Errorf("set-status %q: %w", arg, err)
	}
	return id, st, label, nil
}
