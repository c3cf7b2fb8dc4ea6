package inboxlist

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/keys"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
)

func TestFilter(t *testing.T) {
	msgs := store.DemoSeed(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	assert.Len(t, Filter(msgs, "", ""), len(msgs))

	onlyNew := Filter(msgs, model.StatusNew, "")
	require.Len(t, onlyNew, 2)
	for _, m := range onlyNew {
		assert.Equal(t, model.StatusNew, m.Status)
	}

	byQuery := Filter(msgs, "", "INVOICE")
	require.Len(t, byQuery, 1)
	assert.Equal(t, "demo_2", byQuery[0].ID)

	bySender := Filter(msgs, "", "ravi@")
	require.Len(t, bySender, 1)

	assert.Empty(t, Filter(msgs, model.StatusResolved, "invoice"))
}

func TestStatusFilterKeys(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 24)
	m.SetMessages(store.DemoSeed(time.Now()))

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	assert.Equal(t, "status: in-progress", m.FilterSummary())
	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, model.StatusInProgress, sel.Status)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("0")})
	assert.Empty(t, m.FilterSummary())
}

func TestSelectEmitsMessageID(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 24)
	seed := store.DemoSeed(time.Now())
	m.SetMessages(seed)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, SelectedMessageMsg{MessageID: seed[0].ID}, cmd())
}

func TestRenderLineMarksStaleAndTerminal(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := ItemDelegate{staleMailboxes: map[string]bool{"billing": true}}

	msg := model.MessageSummary{
		MailboxID: "billing",
		From:      "Ana",
		Subject:   "Refund",
		Date:      now.Add(-3 * time.Hour),
		Status:    model.StatusResolved,
		Labels:    []model.Label{model.LabelSpam},
	}
	line := d.renderLine(msg, false, now)
	assert.Contains(t, line, "⚠")
	assert.Contains(t, line, "[spam]")
	assert.Contains(t, line, "3h ago")
	assert.True(t, strings.Contains(line, "Refund"))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "", relativeTime(time.Time{}, now))
	assert.Equal(t, "just now", relativeTime(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", relativeTime(now.Add(-5*time.Minute), now))
	assert.Equal(t, "2d ago", relativeTime(now.Add(-49*time.Hour), now))
	assert.Equal(t, "Feb 20", relativeTime(time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC), now))
}
