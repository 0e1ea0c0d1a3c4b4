package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of StateStore,
// api.MemoryStore and api.HistoryStore backed by maps. It is the default
// backend for development and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*api.Session
	outlines  map[string]*api.Outline
	drafts    map[string]map[int]*api.ChapterDraft
	messages  map[string][]api.Message
	summaries map[string]map[int]api.ChapterSummary
	leases    map[string]memoryLease
}

type memoryLease struct {
	owner   string
	expires time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]*api.Session),
		outlines:  make(map[string]*api.Outline),
		drafts:    make(map[string]map[int]*api.ChapterDraft),
		messages:  make(map[string][]api.Message),
		summaries: make(map[string]map[int]api.ChapterSummary),
		leases:    make(map[string]memoryLease),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ StateStore = (*InMemoryStore)(nil)

var _ api.MemoryStore = (*InMemoryStore)(nil)

var _ api.HistoryStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveSession(ctx context.Context, sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return api.ErrSessionExists
	}

	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return api.ErrSessionNotFound
	}

	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, api.ErrSessionNotFound
	}

	// Hand out a copy so callers cannot mutate stored state.
	return sess.Clone(), nil
}

func (s *InMemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Session

	for _, sess := range s.sessions {
		if filter.Stage != "" && sess.Stage != filter.Stage {
			continue
		}
		if filter.ActiveOnly && sess.Stage.Terminal() {
			continue
		}
		result = append(result, sess.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return result, nil
}

func (s *InMemoryStore) PutOutline(ctx context.Context, o *api.Outline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outlines[o.SessionID] = cloneOutline(o)
	return nil
}

func (s *InMemoryStore) GetOutline(ctx context.Context, sessionID string) (*api.Outline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outlines[sessionID]
	if !ok {
		return nil, api.ErrRecordNotFound
	}
	return cloneOutline(o), nil
}

func (s *InMemoryStore) PutDraft(ctx context.Context, d *api.ChapterDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byChapter, ok := s.drafts[d.SessionID]
	if !ok {
		byChapter = make(map[int]*api.ChapterDraft)
		s.drafts[d.SessionID] = byChapter
	}
	dup := *d
	byChapter[d.Chapter] = &dup
	return nil
}

func (s *InMemoryStore) GetDraft(ctx context.Context, sessionID string, chapter int) (*api.ChapterDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drafts[sessionID][chapter]
	if !ok {
		return nil, api.ErrRecordNotFound
	}
	dup := *d
	return &dup, nil
}

func (s *InMemoryStore) ListDrafts(ctx context.Context, sessionID string) ([]*api.ChapterDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byChapter := s.drafts[sessionID]
	result := make([]*api.ChapterDraft, 0, len(byChapter))
	for _, d := range byChapter {
		dup := *d
		result = append(result, &dup)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Chapter < result[j].Chapter })

	return result, nil
}

func (s *InMemoryStore) Append(ctx context.Context, sessionID string, msg api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

func (s *InMemoryStore) Context(ctx context.Context, sessionID string) ([]api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	out := make([]api.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) RecordSummary(ctx context.Context, summary api.ChapterSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byChapter, ok := s.summaries[summary.SessionID]
	if !ok {
		byChapter = make(map[int]api.ChapterSummary)
		s.summaries[summary.SessionID] = byChapter
	}
	if summary.RecordedAt.IsZero() {
		summary.RecordedAt = time.Now()
	}
	byChapter[summary.Chapter] = summary
	return nil
}

func (s *InMemoryStore) Summaries(ctx context.Context, sessionID string) ([]api.ChapterSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byChapter := s.summaries[sessionID]
	result := make([]api.ChapterSummary, 0, len(byChapter))
	for _, sum := range byChapter {
		result = append(result, sum)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Chapter < result[j].Chapter })

	return result, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	lease, ok := s.leases[sessionID]
	if ok && lease.owner != owner && lease.expires.After(now) {
		return false, nil
	}

	s.leases[sessionID] = memoryLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[sessionID]
	if !ok || lease.owner != owner {
		return api.ErrSessionBusy
	}

	s.leases[sessionID] = memoryLease{owner: owner, expires: time.Now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[sessionID]
	if !ok {
		return nil
	}
	if lease.owner != owner {
		return api.ErrSessionBusy
	}

	delete(s.leases, sessionID)
	return nil
}

func cloneOutline(o *api.Outline) *api.Outline {
	dup := *o
	if o.Chapters != nil {
		dup.Chapters = append([]api.OutlineChapter(nil), o.Chapters...)
	}
	return &dup
}
