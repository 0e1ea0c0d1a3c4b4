package api

import (
	"context"
	"time"
)

// Orchestrator drives book sessions through the generation workflow.
//
// All methods are safe for concurrent use. Methods that advance a session
// hold the session's lease for the duration of the call; a second caller
// working on the same session receives ErrSessionBusy.
type Orchestrator interface {
	// StartSession creates a session and advances it to the first review
	// checkpoint: the outline is generated, published for review, and a
	// notification is sent. The returned session is parked at
	// StageOutlineReview unless generation failed terminally.
	StartSession(ctx context.Context, req StartRequest) (*Session, error)

	// CheckPendingFeedback polls the feedback channel for the session's
	// current review target and, when a decision is present, advances the
	// workflow until the next review checkpoint or a terminal stage.
	//
	// It is idempotent: with no new feedback it performs no transition,
	// produces no duplicate generation or notification, and returns the
	// session unchanged. Each call consumes at most one decision per
	// review target.
	CheckPendingFeedback(ctx context.Context, sessionID string) (*Session, error)

	// GetSession looks up a session by ID.
	// Returns ErrSessionNotFound if it does not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns sessions matching the given options.
	// Zero-valued options return all sessions.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]*Session, error)

	// Resume re-drives a session parked in a non-review, non-terminal
	// stage, typically after a crash or a persistence failure during
	// Summarizing. It never consumes feedback: at a review checkpoint it
	// re-publishes the current artifact, in case the crash happened
	// before the reviewer's copy was written, and returns the session
	// unchanged.
	Resume(ctx context.Context, sessionID string) (*Session, error)

	// Abandon force-fails a session so it stops appearing as active.
	Abandon(ctx context.Context, sessionID string, reason string) (*Session, error)
}

// StartRequest describes a new book session.
type StartRequest struct {
	// ID is optional; a UUID is assigned when empty.
	ID    string
	Title string

	// Notes is optional free-form guidance folded into the outline prompt.
	Notes string
}

// SessionListOptions controls how sessions are listed.
// Zero values mean "no filter" for that field.
type SessionListOptions struct {
	// Stage, if non-empty, limits results to sessions in the given stage.
	Stage Stage

	// ActiveOnly, if true, excludes terminal sessions.
	ActiveOnly bool
}

// GenerationKind tells the generator what it is being asked to produce.
type GenerationKind string

const (
	GenerateOutline  GenerationKind = "outline"
	GenerateChapter  GenerationKind = "chapter"
	GenerateSummary  GenerationKind = "summary"
	GenerateRevision GenerationKind = "revision"
)

// GenerationRequest carries everything a Generator needs for one call.
// Messages is the conditioning context in conversation order; the prompt
// builders in internal/generation assemble it.
type GenerationRequest struct {
	Kind     GenerationKind
	Session  *Session
	Messages []Message
}

// Generator produces text from a conditioning context. Implementations are
// black boxes: the orchestrator only depends on the text-in/text-out
// contract and wraps failures in GenerationError.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// FeedbackChannel is the tabular document reviewers read and annotate.
//
// Publish makes an artifact revision visible for review without ever
// touching reviewer-owned cells. Poll reads the reviewer's verdict for
// exactly the given revision; feedback left on earlier revisions is never
// surfaced again once the revision counter has moved on.
type FeedbackChannel interface {
	Publish(ctx context.Context, sessionID string, target ReviewTarget, revision int, content string) error

	// Poll returns nil when the reviewer has not decided yet.
	Poll(ctx context.Context, sessionID string, target ReviewTarget, revision int) (*FeedbackRecord, error)
}

// Notification is a best-effort message to the humans driving a session.
type Notification struct {
	SessionID string
	Subject   string

	// Body is markdown; sinks may render it (the SMTP sink attaches an
	// HTML alternative) or send it verbatim.
	Body string

	Attachment *Attachment
}

// Attachment is an optional file carried by a notification, e.g. the
// assembled manuscript on completion.
type Attachment struct {
	Filename string
	Content  []byte
}

// NotificationSink delivers notifications. Delivery is best-effort: the
// orchestrator logs failures and carries on, so implementations should
// return NotificationError rather than panic or block indefinitely.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// MemoryStore is a session's append-only conversation log.
type MemoryStore interface {
	Append(ctx context.Context, sessionID string, msg Message) error

	// Context returns all messages for the session in append order.
	Context(ctx context.Context, sessionID string) ([]Message, error)
}

// HistoryStore keeps approved-chapter summaries.
type HistoryStore interface {
	// RecordSummary stores a summary keyed (SessionID, Chapter),
	// overwriting any previous value. Recording the same summary twice
	// leaves exactly one record.
	RecordSummary(ctx context.Context, summary ChapterSummary) error

	// Summaries returns a session's summaries in ascending chapter order.
	Summaries(ctx context.Context, sessionID string) ([]ChapterSummary, error)
}

// RetryPolicy controls how generation calls are retried.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry; each subsequent delay
// is multiplied by BackoffMultiplier (default 2.0 if <= 0) and capped at
// MaxBackoff (no cap if <= 0).
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy is used by orchestrators when no policy is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		BackoffMultiplier: 2.0,
	}
}
