// Package api contains the core building blocks of the tome book-generation
// workflow. It defines the session model, the collaborator contracts the
// orchestrator is wired from, the error taxonomy, and the Observer used for
// logging and metrics.
//
// Most users interact with the higher-level tome package, which re-exports
// selected types and helpers from this package. The api package is intended
// for custom integrations: alternative generators, feedback channels,
// notification sinks, or history stores.
//
// # Sessions and Stages
//
// A Session is the persisted state of one book being written. It moves
// through a fixed sequence of stages: outline generation and review, then
// for each planned chapter a generate/review/summarize cycle, and finally
// BOOK_COMPLETE. Review stages are human checkpoints: the session parks
// there until a reviewer's decision arrives through the feedback channel.
//
// Stages are persisted before dependent side effects, so a session can be
// reloaded and resumed from any stage after a crash.
//
// # Collaborators
//
// The orchestrator depends only on small interfaces:
//
//   - Generator produces outline, chapter, summary, and revision text.
//   - FeedbackChannel publishes artifacts for review and polls decisions.
//   - NotificationSink tells humans that something needs their attention.
//   - MemoryStore keeps the session's append-only conversation log.
//   - HistoryStore keeps approved-chapter summaries for later context.
//
// Implementations live under internal/ and are assembled by the tome
// package's constructors; any of them can be swapped for a custom one.
//
// # Errors
//
// Lookup misses are sentinel errors (ErrSessionNotFound, ErrRecordNotFound).
// Collaborator failures are typed: GenerationError, ChannelError,
// PersistenceError, NotificationError. Match them with the Is* helpers or
// errors.As. Only generation failures can fail a session; channel and
// persistence failures leave it at its last persisted stage for a safe
// retry, and notification failures are logged and swallowed.
//
// # Observability
//
// The Observer interface receives session lifecycle callbacks. Ready-made
// implementations cover structured logging (NewLoggingObserver, log/slog),
// in-memory counters (BasicMetrics), and fan-out (NewCompositeObserver).
package api
