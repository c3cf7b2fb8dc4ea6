package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/model"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id, conv string, offset time.Duration) model.MessageSummary {
	return model.MessageSummary{ID: id, ConversationID: conv, Date: base.Add(offset)}
}

func TestGroupByConversationPicksLatest(t *testing.T) {
	msgs := []model.MessageSummary{
		msg("a1", "c1", 0),
		msg("a2", "c1", 2*time.Hour),
		msg("a3", "c1", time.Hour),
		msg("b1", "c2", 0),
	}

	reps := GroupByConversation(msgs)
	require.Len(t, reps, 2)
	assert.Equal(t, "a2", reps["c1"].ID)
	assert.Equal(t, "b1", reps["c2"].ID)

	for conv, rep := range reps {
		for _, m := range msgs {
			if m.ConversationID == conv {
				assert.False(t, m.Date.After(rep.Date), "representative older than member %s", m.ID)
			}
		}
	}
}

func TestGroupByConversationDoesNotAliasLabels(t *testing.T) {
	in := msg("a1", "c1", 0)
	in.Labels = []model.Label{model.LabelSpam}
	msgs := []model.MessageSummary{in}

	reps := GroupByConversation(msgs)
	msgs[0].Labels[0] = model.LabelIrrelevant

	assert.Equal(t, []model.Label{model.LabelSpam}, reps["c1"].Labels)
}

func TestGroupByConversationTieFirstSeenWins(t *testing.T) {
	msgs := []model.MessageSummary{
		msg("first", "c1", time.Hour),
		msg("second", "c1", time.Hour),
	}
	assert.Equal(t, "first", GroupByConversation(msgs)["c1"].ID)
}

func TestGroupByConversationIdempotent(t *testing.T) {
	msgs := []model.MessageSummary{
		msg("a1", "c1", 0),
		msg("a2", "c1", time.Hour),
		msg("b1", "c2", 3*time.Hour),
		msg("c1", "c3", -time.Hour),
	}

	first := GroupByConversation(msgs)
	var reps []model.MessageSummary
	for _, m := range first {
		reps = append(reps, m)
	}
	assert.Equal(t, first, GroupByConversation(reps))
}

func TestRepresentativesNewestFirst(t *testing.T) {
	msgs := []model.MessageSummary{
		msg("a1", "c1", 0),
		msg("b1", "c2", 3*time.Hour),
		msg("a2", "c1", time.Hour),
	}
	reps := Representatives(msgs)
	require.Len(t, reps, 2)
	assert.Equal(t, "b1", reps[0].ID)
	assert.Equal(t, "a2", reps[1].ID)
}

func TestConversationIDFor(t *testing.T) {
	msgs := []model.MessageSummary{msg("support_1", "conv_support_1", 0)}

	id, err := ConversationIDFor(msgs, "support_1")
	require.NoError(t, err)
	assert.Equal(t, "conv_support_1", id)

	_, err = ConversationIDFor(msgs, "support_2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestThread(t *testing.T) {
	msgs := []model.MessageSummary{
		msg("a2", "c1", time.Hour),
		msg("b1", "c2", 0),
		msg("a1", "c1", 0),
	}

	conv, err := Thread(msgs, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a2", conv.Representative.ID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "a1", conv.Messages[0].ID)
	assert.Equal(t, "a2", conv.Messages[1].ID)

	_, err = Thread(msgs, "missing")
	assert.True(t, apperr.IsNotFound(err))
}
