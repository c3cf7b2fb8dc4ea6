package statusform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/status"
)

func TestChoicesAreValidTransitions(t *testing.T) {
	open := model.MessageSummary{ID: "a", Status: model.StatusInProgress}
	spam := model.MessageSummary{ID: "b", Status: model.StatusResolved, Labels: []model.Label{model.LabelSpam}}

	for _, msg := range []model.MessageSummary{open, spam} {
		for _, c := range Choices(msg) {
			assert.NoError(t, status.Validate(msg, c.Status, c.Label), "%s -> %s", msg.ID, c.Title)
		}
	}

	assert.Len(t, Choices(open), 5)

	terminal := Choices(spam)
	require.Len(t, terminal, 2)
	assert.Equal(t, model.LabelSpam, terminal[1].Label)
}

func TestSubmitSplitsChoice(t *testing.T) {
	m := New(80, 24)
	m.Start(model.MessageSummary{ID: "support_3", Status: model.StatusNew})
	m.fb.choice = Choice{Status: model.StatusResolved, Label: model.LabelIrrelevant}.value()

	msg := m.handleSubmit()()
	assert.Equal(t, StatusChosenMsg{
		MessageID: "support_3",
		Status:    model.StatusResolved,
		Label:     model.LabelIrrelevant,
	}, msg)
}
