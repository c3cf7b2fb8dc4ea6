// Package conversation partitions message summaries by conversation id.
// It does no header-based threading; the id assigned at fetch time is the
// only grouping key.
package conversation

import (
	"fmt"
	"sort"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/model"
)

// GroupByConversation maps each conversation id to its representative: the
// member with the latest timestamp. On equal timestamps the member seen
// first in msgs wins.
func GroupByConversation(msgs []model.MessageSummary) map[string]model.MessageSummary {
	reps := make(map[string]model.MessageSummary, len(msgs))
	for _, m := range msgs {
		cur, ok := reps[m.ConversationID]
		if !ok || m.Date.After(cur.Date) {
			reps[m.ConversationID] = m.Clone()
		}
	}
	return reps
}

// Representatives returns one message per conversation, newest first.
func Representatives(msgs []model.MessageSummary) []model.MessageSummary {
	reps := GroupByConversation(msgs)
	out := make([]model.MessageSummary, 0, len(reps))
	seen := make(map[string]bool, len(reps))
	for _, m := range msgs {
		if seen[m.ConversationID] {
			continue
		}
		seen[m.ConversationID] = true
		out = append(out, reps[m.ConversationID])
	}
	SortNewestFirst(out)
	return out
}

// ConversationIDFor resolves the conversation of messageID within msgs.
func ConversationIDFor(msgs []model.MessageSummary, messageID string) (string, error) {
	for _, m := range msgs {
		if m.ID == messageID {
			return m.ConversationID, nil
		}
	}
	return "", fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
}

// Thread collects the members of one conversation, oldest first.
func Thread(msgs []model.MessageSummary, conversationID string) (model.Conversation, error) {
	var members []model.MessageSummary
	for _, m := range msgs {
		if m.ConversationID == conversationID {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return model.Conversation{}, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
	}

	rep := GroupByConversation(members)[conversationID]
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Date.Before(members[j].Date)
	})
	return model.Conversation{
		ID:             conversationID,
		Representative: rep,
		Messages:       members,
	}, nil
}

// SortNewestFirst orders msgs by descending timestamp, keeping the
// relative order of equal timestamps.
func SortNewestFirst(msgs []model.MessageSummary) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Date.After(msgs[j].Date)
	})
}
