// Package orchestrator drives book sessions through the generation
// workflow: an explicit state machine that generates artifacts, parks at
// human review checkpoints, and picks up again when feedback arrives.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmakela/tome/internal/persistence"
	"github.com/jmakela/tome/pkg/api"
)

const defaultLeaseTTL = 2 * time.Minute

// Config describes how to construct an orchestrator. Persistence.State,
// Persistence.Memory, Persistence.History, Generator, Channel and Sink are
// required; everything else has a default.
type Config struct {
	Persistence persistence.Persistence
	Generator   api.Generator
	Channel     api.FeedbackChannel
	Sink        api.NotificationSink

	Observer api.Observer
	Retry    api.RetryPolicy
	Logger   *slog.Logger

	// FinalReview inserts a whole-manuscript review checkpoint after the
	// last chapter is summarized.
	FinalReview bool

	// LeaseOwner identifies this process in session leases. A random one
	// is generated when empty.
	LeaseOwner string
	LeaseTTL   time.Duration
}

type orchestratorImpl struct {
	state   persistence.StateStore
	memory  api.MemoryStore
	history api.HistoryStore

	gen     api.Generator
	channel api.FeedbackChannel
	sink    api.NotificationSink

	observer api.Observer
	retry    api.RetryPolicy
	logger   *slog.Logger

	finalReview bool
	leaseOwner  string
	leaseTTL    time.Duration
}

var _ api.Orchestrator = (*orchestratorImpl)(nil)

// New constructs an Orchestrator from cfg.
func New(cfg Config) (api.Orchestrator, error) {
	if cfg.Persistence.State == nil {
		return nil, errors.New("state store is required")
	}
	if cfg.Persistence.Memory == nil {
		return nil, errors.New("memory store is required")
	}
	if cfg.Persistence.History == nil {
		return nil, errors.New("history store is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("feedback channel is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("notification sink is required")
	}

	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	retry := cfg.Retry
	if retry.MaxAttempts < 1 {
		retry = api.DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	owner := cfg.LeaseOwner
	if owner == "" {
		owner = uuid.NewString()
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	return &orchestratorImpl{
		state:       cfg.Persistence.State,
		memory:      cfg.Persistence.Memory,
		history:     cfg.Persistence.History,
		gen:         cfg.Generator,
		channel:     cfg.Channel,
		sink:        cfg.Sink,
		observer:    obs,
		retry:       retry,
		logger:      logger,
		finalReview: cfg.FinalReview,
		leaseOwner:  owner,
		leaseTTL:    ttl,
	}, nil
}

func (o *orchestratorImpl) StartSession(ctx context.Context, req api.StartRequest) (*api.Session, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	sess := &api.Session{
		ID:               id,
		Title:            title,
		Notes:            strings.TrimSpace(req.Notes),
		Stage:            api.StageInit,
		ChapterRevisions: map[int]int{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.state.SaveSession(ctx, sess); err != nil {
		if errors.Is(err, api.ErrSessionExists) {
			return nil, err
		}
		return nil, &api.PersistenceError{Op: "save_session", Err: err}
	}
	o.observer.OnSessionStart(ctx, sess)

	if err := o.acquire(ctx, id); err != nil {
		return sess, err
	}
	defer o.release(ctx, id)

	if err := o.advance(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

func (o *orchestratorImpl) CheckPendingFeedback(ctx context.Context, sessionID string) (*api.Session, error) {
	sess, err := o.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return sess, nil
	}

	if err := o.acquire(ctx, sessionID); err != nil {
		return sess, err
	}
	defer o.release(ctx, sessionID)

	// Re-read under the lease; another process may have advanced it.
	sess, err = o.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return sess, nil
	}

	if sess.Stage.Review() {
		consumed, err := o.consumeFeedback(ctx, sess)
		if err != nil {
			return sess, err
		}
		if !consumed {
			return sess, nil
		}
	}
	if err := o.advance(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

func (o *orchestratorImpl) GetSession(ctx context.Context, sessionID string) (*api.Session, error) {
	return o.state.GetSession(ctx, sessionID)
}

func (o *orchestratorImpl) ListSessions(ctx context.Context, opts api.SessionListOptions) ([]*api.Session, error) {
	return o.state.ListSessions(ctx, persistence.SessionFilter{
		Stage:      opts.Stage,
		ActiveOnly: opts.ActiveOnly,
	})
}

func (o *orchestratorImpl) Resume(ctx context.Context, sessionID string) (*api.Session, error) {
	sess, err := o.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return sess, api.ErrSessionTerminal
	}

	if err := o.acquire(ctx, sessionID); err != nil {
		return sess, err
	}
	defer o.release(ctx, sessionID)

	sess, err = o.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return sess, api.ErrSessionTerminal
	}

	if sess.Stage.Review() {
		// Already parked at a checkpoint. Re-publish the artifact in case
		// the reviewer's copy was lost, but consume nothing.
		if err := o.republish(ctx, sess); err != nil {
			return sess, err
		}
		return sess, nil
	}
	if err := o.advance(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

func (o *orchestratorImpl) Abandon(ctx context.Context, sessionID string, reason string) (*api.Session, error) {
	sess, err := o.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return sess, api.ErrSessionTerminal
	}

	if err := o.acquire(ctx, sessionID); err != nil {
		return sess, err
	}
	defer o.release(ctx, sessionID)

	sess, err = o.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return sess, api.ErrSessionTerminal
	}

	if reason == "" {
		reason = "abandoned"
	}
	o.fail(ctx, sess, errors.New(reason))
	return sess, nil
}

func (o *orchestratorImpl) acquire(ctx context.Context, sessionID string) error {
	acquired, err := o.state.TryAcquireLease(ctx, sessionID, o.leaseOwner, o.leaseTTL)
	if err != nil {
		return &api.PersistenceError{Op: "acquire_lease", Err: err}
	}
	if !acquired {
		return fmt.Errorf("session %s: %w", sessionID, api.ErrSessionBusy)
	}
	return nil
}

func (o *orchestratorImpl) release(ctx context.Context, sessionID string) {
	// Release must run even when the caller's context is already canceled.
	if err := o.state.ReleaseLease(context.WithoutCancel(ctx), sessionID, o.leaseOwner); err != nil {
		o.logger.WarnContext(ctx, "lease release failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}
