package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestrator for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnSessionStart is called once when a session is first started,
	// before any generation happens.
	OnSessionStart(ctx context.Context, sess *Session)

	// OnStageTransition is called after a stage transition has been
	// persisted.
	OnStageTransition(ctx context.Context, sess *Session, from, to Stage)

	// OnGeneration is called after every generation attempt, for both
	// successes and failures (err != nil). attempt is 1-based.
	OnGeneration(ctx context.Context, sess *Session, kind GenerationKind, attempt int, err error, duration time.Duration)

	// OnNotificationFailure is called when a notification sink fails.
	// Delivery is best-effort, so this is the only trace of the failure.
	OnNotificationFailure(ctx context.Context, sess *Session, err error)

	// OnSessionCompleted is called when a session reaches
	// StageBookComplete.
	OnSessionCompleted(ctx context.Context, sess *Session)

	// OnSessionFailed is called when a session transitions to
	// StageFailed.
	OnSessionFailed(ctx context.Context, sess *Session, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSessionStart(ctx context.Context, sess *Session)                   {}
func (NoopObserver) OnStageTransition(ctx context.Context, sess *Session, from, to Stage) {}
func (NoopObserver) OnGeneration(ctx context.Context, sess *Session, kind GenerationKind, attempt int, err error, d time.Duration) {
}
func (NoopObserver) OnNotificationFailure(ctx context.Context, sess *Session, err error) {}
func (NoopObserver) OnSessionCompleted(ctx context.Context, sess *Session)               {}
func (NoopObserver) OnSessionFailed(ctx context.Context, sess *Session, err error)       {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSessionStart(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionStart(ctx, sess)
	}
}

func (c *CompositeObserver) OnStageTransition(ctx context.Context, sess *Session, from, to Stage) {
	for _, o := range c.observers {
		o.OnStageTransition(ctx, sess, from, to)
	}
}

func (c *CompositeObserver) OnGeneration(ctx context.Context, sess *Session, kind GenerationKind, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnGeneration(ctx, sess, kind, attempt, err, d)
	}
}

func (c *CompositeObserver) OnNotificationFailure(ctx context.Context, sess *Session, err error) {
	for _, o := range c.observers {
		o.OnNotificationFailure(ctx, sess, err)
	}
}

func (c *CompositeObserver) OnSessionCompleted(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionCompleted(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	for _, o := range c.observers {
		o.OnSessionFailed(ctx, sess, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session / stage lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSessionStart(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "session_start",
		slog.String("session_id", sess.ID),
		slog.String("title", sess.Title),
	)
}

func (o *LoggingObserver) OnStageTransition(ctx context.Context, sess *Session, from, to Stage) {
	o.Logger.InfoContext(ctx, "stage_transition",
		slog.String("session_id", sess.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("chapter", sess.Chapter),
	)
}

func (o *LoggingObserver) OnGeneration(ctx context.Context, sess *Session, kind GenerationKind, attempt int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "generation",
		slog.String("session_id", sess.ID),
		slog.String("kind", string(kind)),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNotificationFailure(ctx context.Context, sess *Session, err error) {
	o.Logger.WarnContext(ctx, "notification_failed",
		slog.String("session_id", sess.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSessionCompleted(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "session_completed",
		slog.String("session_id", sess.ID),
		slog.String("title", sess.Title),
	)
}

func (o *LoggingObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	o.Logger.ErrorContext(ctx, "session_failed",
		slog.String("session_id", sess.ID),
		slog.String("stage", string(sess.Stage)),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate generation durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	sessionsStarted       atomic.Int64
	sessionsCompleted     atomic.Int64
	sessionsFailed        atomic.Int64
	stageTransitions      atomic.Int64
	generations           atomic.Int64
	generationFailures    atomic.Int64
	notificationFailures  atomic.Int64
	totalGenerateDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64
	ActiveSessions    int64

	StageTransitions     int64
	Generations          int64
	GenerationFailures   int64
	NotificationFailures int64
	AvgGenerateDuration  time.Duration
}

func (m *BasicMetrics) OnSessionStart(ctx context.Context, sess *Session) {
	m.sessionsStarted.Add(1)
}

func (m *BasicMetrics) OnStageTransition(ctx context.Context, sess *Session, from, to Stage) {
	m.stageTransitions.Add(1)
}

func (m *BasicMetrics) OnGeneration(ctx context.Context, sess *Session, kind GenerationKind, attempt int, err error, d time.Duration) {
	if err != nil {
		m.generationFailures.Add(1)
		return
	}
	// Only count successful calls for average duration.
	m.generations.Add(1)
	m.totalGenerateDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnNotificationFailure(ctx context.Context, sess *Session, err error) {
	m.notificationFailures.Add(1)
}

func (m *BasicMetrics) OnSessionCompleted(ctx context.Context, sess *Session) {
	m.sessionsCompleted.Add(1)
}

func (m *BasicMetrics) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	m.sessionsFailed.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.sessionsStarted.Load()
	completed := m.sessionsCompleted.Load()
	failed := m.sessionsFailed.Load()
	gens := m.generations.Load()
	totalNs := m.totalGenerateDuration.Load()

	var avg time.Duration
	if gens > 0 {
		avg = time.Duration(totalNs / gens)
	}

	return BasicMetricsSnapshot{
		SessionsStarted:      started,
		SessionsCompleted:    completed,
		SessionsFailed:       failed,
		ActiveSessions:       started - completed - failed,
		StageTransitions:     m.stageTransitions.Load(),
		Generations:          gens,
		GenerationFailures:   m.generationFailures.Load(),
		NotificationFailures: m.notificationFailures.Load(),
		AvgGenerateDuration:  avg,
	}
}
