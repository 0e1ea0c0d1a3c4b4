package feedback

import (
	"context"
	"strconv"
	"sync"

	"github.com/jmakela/tome/pkg/api"
)

// Publication is one artifact handed to an InMemoryChannel for review.
type Publication struct {
	SessionID string
	Target    api.ReviewTarget
	Revision  int
	Content   string
}

// InMemoryChannel is a FeedbackChannel that stands in for a human reviewer.
// Tests and examples queue decisions with Approve and Revise; Poll surfaces
// a decision only for the exact (session, target, revision) it was queued
// under, like the workbook does.
type InMemoryChannel struct {
	mu        sync.Mutex
	published map[string]string
	decisions map[string]api.FeedbackRecord
	log       []Publication
	failErr   error
}

var _ api.FeedbackChannel = (*InMemoryChannel)(nil)

// NewInMemoryChannel returns an empty channel with no queued decisions.
func NewInMemoryChannel() *InMemoryChannel {
	return &InMemoryChannel{
		published: make(map[string]string),
		decisions: make(map[string]api.FeedbackRecord),
	}
}

func key(sessionID string, target api.ReviewTarget, revision int) string {
	return sessionID + "|" + target.String() + "|" + strconv.Itoa(revision)
}

func (c *InMemoryChannel) Publish(ctx context.Context, sessionID string, target api.ReviewTarget, revision int, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return &api.ChannelError{Op: "publish", Err: c.failErr}
	}
	c.published[key(sessionID, target, revision)] = content
	c.log = append(c.log, Publication{SessionID: sessionID, Target: target, Revision: revision, Content: content})
	return nil
}

func (c *InMemoryChannel) Poll(ctx context.Context, sessionID string, target api.ReviewTarget, revision int) (*api.FeedbackRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, &api.ChannelError{Op: "poll", Err: c.failErr}
	}
	rec, ok := c.decisions[key(sessionID, target, revision)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// Approve queues an approval for the given artifact revision.
func (c *InMemoryChannel) Approve(sessionID string, target api.ReviewTarget, revision int) {
	c.decide(sessionID, target, revision, api.DecisionApprove, "")
}

// Revise queues a revision request with the given comments.
func (c *InMemoryChannel) Revise(sessionID string, target api.ReviewTarget, revision int, comments string) {
	c.decide(sessionID, target, revision, api.DecisionRevise, comments)
}

func (c *InMemoryChannel) decide(sessionID string, target api.ReviewTarget, revision int, d api.Decision, comments string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[key(sessionID, target, revision)] = api.FeedbackRecord{
		Target:   target,
		Revision: revision,
		Decision: d,
		Comments: comments,
	}
}

// Fail makes every subsequent Publish and Poll return err wrapped in a
// ChannelError until called again with nil.
func (c *InMemoryChannel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

// Published returns the content most recently published for the given
// artifact revision.
func (c *InMemoryChannel) Published(sessionID string, target api.ReviewTarget, revision int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.published[key(sessionID, target, revision)]
	return content, ok
}

// Publications returns every Publish call in order.
func (c *InMemoryChannel) Publications() []Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Publication, len(c.log))
	copy(out, c.log)
	return out
}
