package generation

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmakela/tome/pkg/api"
)

// ScriptedGenerator returns canned outputs in order and records every
// request it serves. It stands in for the LLM in tests and examples,
// making workflows fully deterministic.
type ScriptedGenerator struct {
	mu    sync.Mutex
	queue []string
	calls []api.GenerationRequest
}

var _ api.Generator = (*ScriptedGenerator)(nil)

// NewScriptedGenerator seeds the script with outputs, served first to last.
func NewScriptedGenerator(outputs ...string) *ScriptedGenerator {
	return &ScriptedGenerator{queue: append([]string(nil), outputs...)}
}

// Push appends more outputs to the script.
func (g *ScriptedGenerator) Push(outputs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, outputs...)
}

func (g *ScriptedGenerator) Generate(_ context.Context, req api.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Freeze the session so later mutations don't rewrite the journal.
	recorded := req
	if req.Session != nil {
		recorded.Session = req.Session.Clone()
	}
	g.calls = append(g.calls, recorded)

	if len(g.queue) == 0 {
		return "", fmt.Errorf("script exhausted after %d calls (kind %s)", len(g.calls), req.Kind)
	}

	out := g.queue[0]
	g.queue = g.queue[1:]
	return out, nil
}

// Calls returns a copy of the journal of requests served so far.
func (g *ScriptedGenerator) Calls() []api.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]api.GenerationRequest(nil), g.calls...)
}

// Remaining reports how many scripted outputs are left.
func (g *ScriptedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}
