// Package status applies workflow status changes to inbox messages with an
// optimistic local update that is confirmed or rolled back by the
// authoritative backend.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
)

// Backend confirms status changes. store.SQLiteStore satisfies it.
type Backend interface {
	SaveStatus(ctx context.Context, rec model.StatusRecord) error
}

// Refresher is asked to re-ingest a mailbox after a confirmed change.
type Refresher interface {
	Refresh(mailboxID string)
}

// Engine validates and applies status transitions. At most one transition
// per message id is in flight; different ids proceed concurrently.
type Engine struct {
	inbox     *store.Inbox
	backend   Backend
	bus       *events.Bus
	refresher Refresher
	locks     *keyedLock
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine. bus and refresher may be nil.
func NewEngine(
	inbox *store.Inbox,
	backend Backend,
	bus *events.Bus,
	refresher Refresher,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		inbox:     inbox,
		backend:   backend,
		bus:       bus,
		refresher: refresher,
		locks:     newKeyedLock(),
		logger:    logger.With().Str("component", "status").Logger(),
		now:       time.Now,
	}
}

// Apply changes the status of messageID, waiting for any in-flight
// transition on the same id to settle first. If ctx ends while waiting,
// ErrTransitionConflict is returned and nothing is changed.
func (e *Engine) Apply(
	ctx context.Context,
	messageID string,
	next model.Status,
	label model.Label,
) (model.MessageSummary, error) {
	release, err := e.locks.acquire(ctx, messageID)
	if err != nil {
		return model.MessageSummary{}, fmt.Errorf(
			"message %s: %w: %v", messageID, apperr.ErrTransitionConflict, err)
	}
	defer release()

	return e.apply(ctx, messageID, next, label)
}

// TryApply is Apply without waiting: a transition already in flight for
// messageID yields ErrTransitionConflict immediately.
func (e *Engine) TryApply(
	ctx context.Context,
	messageID string,
	next model.Status,
	label model.Label,
) (model.MessageSummary, error) {
	release, ok := e.locks.tryAcquire(messageID)
	if !ok {
		return model.MessageSummary{}, fmt.Errorf("message %s: %w", messageID, apperr.ErrTransitionConflict)
	}
	defer release()

	return e.apply(ctx, messageID, next, label)
}

// apply runs with the per-message lock held.
func (e *Engine) apply(
	ctx context.Context,
	messageID string,
	next model.Status,
	label model.Label,
) (model.MessageSummary, error) {
	snapshot, err := e.inbox.Get(messageID)
	if err != nil {
		return model.MessageSummary{}, err
	}

	if err := Validate(snapshot, next, label); err != nil {
		return model.MessageSummary{}, fmt.Errorf("message %s: %w", messageID, err)
	}

	updated, err := e.inbox.Patch(messageID, func(m *model.MessageSummary) {
		applyTo(m, next, label)
	})
	if err != nil {
		return model.MessageSummary{}, err
	}

	log := e.logger.With().
		Str("message_id", messageID).
		Str("from", string(snapshot.Status)).
		Str("to", string(next)).
		Str("label", string(label)).
		Logger()

	if err := e.backend.SaveStatus(ctx, model.StatusRecordFor(updated, e.now())); err != nil {
		if _, restoreErr := e.inbox.Patch(messageID, func(m *model.MessageSummary) {
			*m = snapshot.Clone()
		}); restoreErr != nil {
			// The record left the store (re-ingested away); nothing to restore.
			log.Warn().Err(restoreErr).Msg("rollback target missing")
		}
		log.Warn().Err(err).Msg("status change rolled back")

		perr := &apperr.PersistenceError{MessageID: messageID, Err: err}
		e.bus.Publish(events.StatusSettled{
			MessageID: messageID,
			Status:    snapshot.Status,
			Label:     label,
			Outcome:   events.OutcomeRolledBack,
			Err:       perr,
		})
		return model.MessageSummary{}, perr
	}

	log.Info().Msg("status change confirmed")
	e.bus.Publish(events.StatusSettled{
		MessageID: messageID,
		Status:    updated.Status,
		Label:     label,
		Outcome:   events.OutcomeConfirmed,
	})
	if e.refresher != nil {
		e.refresher.Refresh(updated.MailboxID)
	}
	return updated, nil
}

// Validate checks a transition from the current record. Everything is
// allowed except leaving resolved+irrelevant or resolved+spam, and a label
// may only accompany resolved.
func Validate(cur model.MessageSummary, next model.Status, label model.Label) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidTransition, next)
	}
	if label != "" && !label.Valid() {
		return fmt.Errorf("%w: unknown label %q", apperr.ErrInvalidTransition, label)
	}
	if label != "" && next != model.StatusResolved {
		return fmt.Errorf("%w: label %s requires status %s", apperr.ErrInvalidTransition, label, model.StatusResolved)
	}
	if cur.IsTerminal() {
		if next == model.StatusResolved && (label == "" || cur.HasLabel(label)) {
			return nil
		}
		return fmt.Errorf("%w: %s is classified as %v", apperr.ErrInvalidTransition, cur.ID, cur.Labels)
	}
	return nil
}

// applyTo sets the status fields of m. Labels only survive on resolved.
func applyTo(m *model.MessageSummary, next model.Status, label model.Label) {
	m.Status = next
	if next != model.StatusResolved {
		m.Labels = nil
		return
	}
	if label != "" && !m.HasLabel(label) {
		m.Labels = append(m.Labels, label)
	}
}
