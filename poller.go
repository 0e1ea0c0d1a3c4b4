package tome

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// Poller periodically scans for sessions parked at a review checkpoint and
// funnels any new reviewer decisions through the orchestrator. It is the
// unattended counterpart to calling CheckPendingFeedback by hand.
//
// Typical usage:
//
//	poller := tome.NewPoller(orch, tome.PollerConfig{Interval: 30 * time.Second})
//	_ = poller.Start(ctx)
//	defer poller.Stop()
//
// Sessions frozen outside a review stage (for example by a summary-write
// failure) are left alone unless RetryFrozen is set; by default those need
// an explicit Resume.
type Poller struct {
	orch        Orchestrator
	interval    time.Duration
	retryFrozen bool
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// PollerConfig configures a Poller. The zero value polls every 30 seconds
// and logs through slog.Default.
type PollerConfig struct {
	Interval time.Duration

	// RetryFrozen resumes sessions stuck between checkpoints, typically
	// after a summary write failed and left the session mid-stage. A
	// session another process is actively driving holds its lease and is
	// skipped, so retrying is safe.
	RetryFrozen bool

	Logger *slog.Logger
}

// NewPoller constructs a Poller over the given orchestrator.
func NewPoller(orch Orchestrator, cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{orch: orch, interval: interval, retryFrozen: cfg.RetryFrozen, logger: logger}
}

// Start launches the polling goroutine. It scans once immediately and then
// on every interval tick until the context is cancelled via Stop.
//
// If Start is called again without Stop, it returns an error.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("tome: poller already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			p.scan(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

// Stop cancels the polling goroutine and waits for it to exit. It is safe
// to call Stop on a poller that was never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// scan checks every session currently parked at a review checkpoint. A
// session held by another process is skipped and retried next tick; other
// errors are logged so a single bad session doesn't kill the loop.
func (p *Poller) scan(ctx context.Context) {
	sessions, err := p.orch.ListSessions(ctx, api.SessionListOptions{ActiveOnly: true})
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WarnContext(ctx, "session scan failed", slog.Any("error", err))
		}
		return
	}

	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}

		var err error
		switch {
		case sess.Stage.Review():
			_, err = p.orch.CheckPendingFeedback(ctx, sess.ID)
		case p.retryFrozen:
			_, err = p.orch.Resume(ctx, sess.ID)
		default:
			continue
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, api.ErrSessionBusy):
			// Another process holds the lease.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			p.logger.WarnContext(ctx, "feedback check failed",
				slog.String("session_id", sess.ID),
				slog.Any("error", err),
			)
		}
	}
}
