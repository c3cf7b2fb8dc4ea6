package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an id that is
	// absent from the current store or message list.
	ErrNotFound = errors.New("not found")

	// ErrTransitionConflict is returned when a status transition is
	// attempted while another one for the same message is still in flight.
	ErrTransitionConflict = errors.New("transition already in flight")

	// ErrInvalidTransition is returned for transitions the status machine
	// does not allow (leaving a terminal state, a label without resolved,
	// unknown values).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ConnectionError indicates a mailbox session could not be established or
// maintained. It is fatal for the fetch call and may be retried by the caller.
type ConnectionError struct {
	MailboxID string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox %s: %s: %v", e.MailboxID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError indicates the mailbox rejected the configured
// credentials. Callers must not retry automatically.
type AuthenticationError struct {
	MailboxID string
	Username  string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("mailbox %s: authentication failed for %s: %v", e.MailboxID, e.Username, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ParseError describes a single message whose headers or body could not be
// decoded. It is logged and the message skipped; it never aborts a batch.
type ParseError struct {
	MailboxID string
	UID       uint32
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mailbox %s: parsing message uid %d: %v", e.MailboxID, e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError reports that the authoritative backend refused or failed
// to confirm a status change. The optimistic change has been rolled back
// by the time the caller sees it.
type PersistenceError struct {
	MessageID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting status for %s: %v", e.MessageID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthenticationError.
func IsAuthError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsParseError reports whether err (or any error in its chain) is a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsPersistenceError reports whether err (or any error in its chain) is a PersistenceError.
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransitionConflict reports whether err wraps ErrTransitionConflict.
func IsTransitionConflict(err error) bool {
	return errors.Is(err, ErrTransitionConflict)
}
