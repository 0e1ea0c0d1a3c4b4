package tome

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jmakela/tome/internal/feedback"
	"github.com/jmakela/tome/internal/generation"
	"github.com/jmakela/tome/internal/notify"
	"github.com/jmakela/tome/internal/orchestrator"
	"github.com/jmakela/tome/internal/persistence"
	"github.com/jmakela/tome/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Orchestrator       = api.Orchestrator
	Session            = api.Session
	Stage              = api.Stage
	StartRequest       = api.StartRequest
	SessionListOptions = api.SessionListOptions

	Outline        = api.Outline
	OutlineChapter = api.OutlineChapter
	ChapterDraft   = api.ChapterDraft
	ChapterSummary = api.ChapterSummary
	Message        = api.Message

	ReviewTarget   = api.ReviewTarget
	Decision       = api.Decision
	FeedbackRecord = api.FeedbackRecord

	Generator         = api.Generator
	GenerationRequest = api.GenerationRequest
	GenerationKind    = api.GenerationKind
	FeedbackChannel   = api.FeedbackChannel
	NotificationSink  = api.NotificationSink
	Notification      = api.Notification
	Attachment        = api.Attachment

	MemoryStore  = api.MemoryStore
	HistoryStore = api.HistoryStore

	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// GeneratorOptions configures NewOpenAIGenerator.
	GeneratorOptions = generation.Options

	// ScriptedGenerator serves canned outputs for tests and dry runs.
	ScriptedGenerator = generation.ScriptedGenerator

	// InMemoryChannel is a reviewer stand-in for tests and examples.
	InMemoryChannel = feedback.InMemoryChannel

	// SMTPConfig configures NewSMTPSink.
	SMTPConfig = notify.SMTPConfig
)

// Re-export common helpers and error sentinels.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	OutlineTarget    = api.OutlineTarget
	ChapterTarget    = api.ChapterTarget
	ManuscriptTarget = api.ManuscriptTarget

	ErrSessionNotFound = api.ErrSessionNotFound
	ErrSessionExists   = api.ErrSessionExists
	ErrSessionBusy     = api.ErrSessionBusy
	ErrSessionTerminal = api.ErrSessionTerminal
	ErrRecordNotFound  = api.ErrRecordNotFound
)

// Re-export stage values for convenience.

const (
	StageInit            = api.StageInit
	StageOutlinePending  = api.StageOutlinePending
	StageOutlineReview   = api.StageOutlineReview
	StageOutlineApproved = api.StageOutlineApproved
	StageChapterPending  = api.StageChapterPending
	StageChapterReview   = api.StageChapterReview
	StageChapterApproved = api.StageChapterApproved
	StageSummarizing     = api.StageSummarizing
	StageFinalReview     = api.StageFinalReview
	StageFinalRevision   = api.StageFinalRevision
	StageBookComplete    = api.StageBookComplete
	StageFailed          = api.StageFailed

	DecisionApprove = api.DecisionApprove
	DecisionRevise  = api.DecisionRevise

	GenerateOutline  = api.GenerateOutline
	GenerateChapter  = api.GenerateChapter
	GenerateSummary  = api.GenerateSummary
	GenerateRevision = api.GenerateRevision
)

// Options configures an orchestrator regardless of backend. Generator,
// Channel and Sink are required; everything else has a sensible default.
type Options struct {
	// Generator produces outlines, chapters and summaries.
	Generator api.Generator

	// Channel is where artifacts are published for review and reviewer
	// decisions are read from.
	Channel api.FeedbackChannel

	// Sink receives best-effort notifications at each checkpoint.
	Sink api.NotificationSink

	// Observer receives workflow lifecycle events. Defaults to a no-op.
	Observer api.Observer

	// Retry bounds generation attempts. Zero value means the default
	// policy (3 attempts, 500ms initial backoff doubling up to 8s).
	Retry api.RetryPolicy

	Logger *slog.Logger

	// FinalReview adds a whole-manuscript review checkpoint after the
	// last chapter summary.
	FinalReview bool

	// History overrides the backend's summary store. Use it to keep
	// chapter summaries in a separate system, e.g. MongoDB via
	// NewMongoHistoryStore.
	History HistoryStore

	// LeaseOwner identifies this process in session leases; a random
	// identity is generated when empty.
	LeaseOwner string
	LeaseTTL   time.Duration
}

func (o Options) build(bundle persistence.Persistence) (Orchestrator, error) {
	if o.History != nil {
		bundle.History = o.History
	}
	return orchestrator.New(orchestrator.Config{
		Persistence: bundle,
		Generator:   o.Generator,
		Channel:     o.Channel,
		Sink:        o.Sink,
		Observer:    o.Observer,
		Retry:       o.Retry,
		Logger:      o.Logger,
		FinalReview: o.FinalReview,
		LeaseOwner:  o.LeaseOwner,
		LeaseTTL:    o.LeaseTTL,
	})
}

// Orchestrator constructors
// These wrap the internal packages so external callers never need to
// import them.

// NewInMemoryOrchestrator returns an Orchestrator backed entirely by
// in-memory stores. State does not survive the process; best for tests
// and experiments.
func NewInMemoryOrchestrator(opts Options) (Orchestrator, error) {
	store := persistence.NewInMemoryStore()
	return opts.build(persistence.Persistence{State: store, Memory: store, History: store})
}

// NewSQLiteOrchestrator returns an Orchestrator that persists sessions,
// artifacts, memory and summaries in a SQLite database. The caller is
// responsible for importing a SQLite driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteOrchestrator(db *sql.DB, opts Options) (Orchestrator, error) {
	state, err := persistence.NewSQLiteStateStore(db)
	if err != nil {
		return nil, err
	}
	memory, err := persistence.NewSQLiteMemoryStore(db)
	if err != nil {
		return nil, err
	}
	history, err := persistence.NewSQLiteHistoryStore(db)
	if err != nil {
		return nil, err
	}
	return opts.build(persistence.Persistence{State: state, Memory: memory, History: history})
}

// NewPostgresOrchestrator returns an Orchestrator that persists everything
// in PostgreSQL, e.g. through the pgx stdlib driver.
func NewPostgresOrchestrator(db *sql.DB, opts Options) (Orchestrator, error) {
	state, err := persistence.NewPostgresStateStore(db)
	if err != nil {
		return nil, err
	}
	memory, err := persistence.NewPostgresMemoryStore(db)
	if err != nil {
		return nil, err
	}
	history, err := persistence.NewPostgresHistoryStore(db)
	if err != nil {
		return nil, err
	}
	return opts.build(persistence.Persistence{State: state, Memory: memory, History: history})
}

// NewRedisOrchestrator returns an Orchestrator that persists everything in
// Redis under the given key prefix ("tome:" when empty).
func NewRedisOrchestrator(client *redis.Client, prefix string, opts Options) (Orchestrator, error) {
	if prefix == "" {
		prefix = "tome:"
	} else if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return opts.build(persistence.Persistence{
		State:   persistence.NewRedisStateStore(client, prefix),
		Memory:  persistence.NewRedisMemoryStore(client, prefix),
		History: persistence.NewRedisHistoryStore(client, prefix),
	})
}

// NewMongoHistoryStore keeps chapter summaries in MongoDB, one document per
// (session, chapter), upserted so re-recording is idempotent. Plug it into
// Options.History to combine it with any state backend.
func NewMongoHistoryStore(client *mongo.Client, database, collection string) HistoryStore {
	return persistence.NewMongoHistoryStore(client, database, collection)
}

// Collaborator constructors

// NewOpenAIGenerator returns a Generator backed by the OpenAI chat API (or
// any compatible endpoint via GeneratorOptions.BaseURL).
func NewOpenAIGenerator(opts GeneratorOptions) (Generator, error) {
	gen, err := generation.NewOpenAIGenerator(opts)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// NewScriptedGenerator returns a Generator that serves the given outputs in
// order and records every request.
func NewScriptedGenerator(outputs ...string) *ScriptedGenerator {
	return generation.NewScriptedGenerator(outputs...)
}

// NewWorkbookChannel returns a FeedbackChannel backed by an Excel workbook
// at path, creating it with a header row if missing. Reviewers type
// decisions and comments straight into the sheet.
func NewWorkbookChannel(path string) (FeedbackChannel, error) {
	ch, err := feedback.NewWorkbookChannel(path)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// NewInMemoryChannel returns a FeedbackChannel that tests and examples can
// drive programmatically.
func NewInMemoryChannel() *InMemoryChannel {
	return feedback.NewInMemoryChannel()
}

// NewSMTPSink returns a NotificationSink that emails review requests and
// completed manuscripts.
func NewSMTPSink(cfg SMTPConfig, logger *slog.Logger) (NotificationSink, error) {
	sink, err := notify.NewSMTPSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// NewLoggingSink returns a NotificationSink that writes notifications to the
// given logger. Useful when no SMTP server is configured.
func NewLoggingSink(logger *slog.Logger) NotificationSink {
	return notify.NewLoggingSink(logger)
}

// NewMultiSink fans notifications out to every given sink.
func NewMultiSink(sinks ...NotificationSink) NotificationSink {
	return notify.NewMultiSink(sinks...)
}

// Convenience helpers that just forward to the underlying Orchestrator.

// StartSession starts a book session and drives it to the first review
// checkpoint.
func StartSession(ctx context.Context, orch Orchestrator, req StartRequest) (*Session, error) {
	return orch.StartSession(ctx, req)
}

// CheckPendingFeedback polls for reviewer decisions and advances the session.
func CheckPendingFeedback(ctx context.Context, orch Orchestrator, sessionID string) (*Session, error) {
	return orch.CheckPendingFeedback(ctx, sessionID)
}

// GetSession fetches a session by ID.
func GetSession(ctx context.Context, orch Orchestrator, sessionID string) (*Session, error) {
	return orch.GetSession(ctx, sessionID)
}

// ListSessions lists sessions according to the given options.
func ListSessions(ctx context.Context, orch Orchestrator, opts SessionListOptions) ([]*Session, error) {
	return orch.ListSessions(ctx, opts)
}

// Resume re-drives a session after a crash or a frozen persistence failure.
func Resume(ctx context.Context, orch Orchestrator, sessionID string) (*Session, error) {
	return orch.Resume(ctx, sessionID)
}
