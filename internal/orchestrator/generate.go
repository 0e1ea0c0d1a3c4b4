package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

var errEmptyGeneration = errors.New("generator returned empty output")

// generate invokes the generator with retries per the configured policy.
// Exhausting every attempt returns a GenerationError. A canceled context
// returns ctx.Err() untouched: cancellation is not a generation failure and
// must leave the session resumable, not failed.
func (o *orchestratorImpl) generate(ctx context.Context, sess *api.Session, kind api.GenerationKind, msgs []api.Message) (string, error) {
	maxAttempts := o.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := o.retry.InitialBackoff
	multiplier := o.retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		start := time.Now()
		out, err := o.gen.Generate(ctx, api.GenerationRequest{
			Kind:     kind,
			Session:  sess,
			Messages: msgs,
		})
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptyGeneration
		}
		o.observer.OnGeneration(ctx, sess, kind, attempt, err, time.Since(start))
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * multiplier)
		if o.retry.MaxBackoff > 0 && backoff > o.retry.MaxBackoff {
			backoff = o.retry.MaxBackoff
		}
	}
	return "", &api.GenerationError{Kind: kind, Attempts: maxAttempts, Err: lastErr}
}

// failIfGeneration marks the session failed when err is an exhausted
// generation. Anything else, context cancellation above all, passes through
// with the session left where it was so Resume can pick it up.
func (o *orchestratorImpl) failIfGeneration(ctx context.Context, sess *api.Session, err error) error {
	if _, ok := api.IsGenerationError(err); ok {
		o.fail(ctx, sess, err)
	}
	return err
}
