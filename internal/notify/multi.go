package notify

import (
	"context"
	"errors"

	"github.com/jmakela/tome/pkg/api"
)

// MultiSink fans a notification out to several sinks, e.g. email plus a log
// line. Every sink is attempted even when an earlier one fails; the
// failures come back joined.
type MultiSink struct {
	sinks []api.NotificationSink
}

var _ api.NotificationSink = (*MultiSink)(nil)

// NewMultiSink combines the given sinks. Nil sinks are skipped.
func NewMultiSink(sinks ...api.NotificationSink) *MultiSink {
	filtered := make([]api.NotificationSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Notify(ctx context.Context, n api.Notification) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
