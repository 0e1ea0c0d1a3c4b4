package api

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when starting a session with an ID
	// that is already in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionBusy is returned when another caller holds the session's
	// lease. The operation is safe to retry after a short wait.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionTerminal is returned when an operation requires a live
	// session but the session has already completed or failed.
	ErrSessionTerminal = errors.New("session in terminal stage")

	// ErrRecordNotFound is returned when an outline or draft lookup
	// misses.
	ErrRecordNotFound = errors.New("record not found")
)

// GenerationError wraps a failure of the generation engine. The
// orchestrator retries generation per its RetryPolicy; Attempts is how many
// calls were made before giving up.
type GenerationError struct {
	Kind     GenerationKind
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("generation (%s) failed after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("generation (%s) failed: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError returns the typed error if err is or wraps a
// GenerationError.
func IsGenerationError(err error) (*GenerationError, bool) {
	var g *GenerationError
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}

// ChannelError wraps a feedback channel failure. Op is "publish" or "poll".
// Channel failures abort the in-flight operation without a stage
// transition, so the same call can be retried safely.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("feedback channel %s failed: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// IsChannelError returns the typed error if err is or wraps a ChannelError.
func IsChannelError(err error) (*ChannelError, bool) {
	var c *ChannelError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// PersistenceError wraps a store failure. When one interrupts a summary
// write the session stays frozen at its last persisted stage until Resume
// retries it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError returns the typed error if err is or wraps a
// PersistenceError.
func IsPersistenceError(err error) (*PersistenceError, bool) {
	var p *PersistenceError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// NotificationError wraps a notification delivery failure. Notifications
// are best-effort: the orchestrator logs these and never lets them affect
// workflow progress.
type NotificationError struct {
	Sink string
	Err  error
}

func (e *NotificationError) Error() string {
	if e.Sink != "" {
		return fmt.Sprintf("notification via %s failed: %v", e.Sink, e.Err)
	}
	return fmt.Sprintf("notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsNotificationError returns the typed error if err is or wraps a
// NotificationError.
func IsNotificationError(err error) (*NotificationError, bool) {
	var n *NotificationError
	if errors.As(err, &n) {
		return n, true
	}
	return nil, false
}
