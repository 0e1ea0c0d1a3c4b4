package persistence

import (
	"context"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// SessionFilter is used to select sessions from the store.
// Empty string / false mean "no filter" for that field.
type SessionFilter struct {
	Stage      api.Stage
	ActiveOnly bool
}

// StateStore persists sessions and their generated artifacts.
//
// Outlines are keyed by session, drafts by (session, chapter); Put replaces
// the stored record in a single statement so readers never observe a partial
// write. Lookup misses return api.ErrSessionNotFound / api.ErrRecordNotFound.
type StateStore interface {
	// SaveSession inserts a new session. Returns api.ErrSessionExists if
	// the ID is already in use.
	SaveSession(ctx context.Context, sess *api.Session) error

	// UpdateSession overwrites an existing session. Returns
	// api.ErrSessionNotFound if it does not exist.
	UpdateSession(ctx context.Context, sess *api.Session) error

	GetSession(ctx context.Context, id string) (*api.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error)

	// PutOutline stores the session's outline, replacing any previous
	// revision.
	PutOutline(ctx context.Context, o *api.Outline) error
	GetOutline(ctx context.Context, sessionID string) (*api.Outline, error)

	// PutDraft stores a chapter draft, replacing any previous revision of
	// that chapter.
	PutDraft(ctx context.Context, d *api.ChapterDraft) error
	GetDraft(ctx context.Context, sessionID string, chapter int) (*api.ChapterDraft, error)

	// ListDrafts returns a session's drafts in ascending chapter order.
	ListDrafts(ctx context.Context, sessionID string) ([]*api.ChapterDraft, error)

	// TryAcquireLease attempts to acquire (or re-acquire) a lease on a session.
	// If the session is currently leased by another owner and the lease has not
	// expired, it returns acquired=false, err=nil.
	//
	// Implementations should treat a lease owned by the same owner as re-entrant.
	TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (acquired bool, err error)
	// RenewLease extends an existing lease owned by 'owner' for the given ttl.
	RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	// ReleaseLease releases a lease if it is owned by 'owner'. It is idempotent.
	ReleaseLease(ctx context.Context, sessionID, owner string) error
}

// Persistence bundles the store interfaces so the orchestrator can depend
// on a single abstraction.
type Persistence struct {
	State   StateStore
	Memory  api.MemoryStore
	History api.HistoryStore
}
