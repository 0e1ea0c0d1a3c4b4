package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// PostgresStateStore is a StateStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStateStore struct {
	db *sql.DB
}

// Ensure PostgresStateStore implements StateStore.
var _ StateStore = (*PostgresStateStore)(nil)

// NewPostgresStateStore initializes the required schema in the given
// database and returns a new PostgresStateStore.
func NewPostgresStateStore(db *sql.DB) (*PostgresStateStore, error) {
	s := &PostgresStateStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStateStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			chapter INTEGER NOT NULL DEFAULT 0,
			outline_revision INTEGER NOT NULL DEFAULT 0,
			chapter_revisions TEXT NOT NULL DEFAULT '{}',
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS outlines (
			session_id TEXT PRIMARY KEY,
			revision INTEGER NOT NULL,
			approved BOOLEAN NOT NULL DEFAULT FALSE,
			content TEXT NOT NULL,
			chapters TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS chapter_drafts (
			session_id TEXT NOT NULL,
			chapter INTEGER NOT NULL,
			revision INTEGER NOT NULL,
			approved BOOLEAN NOT NULL DEFAULT FALSE,
			content TEXT NOT NULL,
			PRIMARY KEY (session_id, chapter)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStateStore) SaveSession(ctx context.Context, sess *api.Session) error {
	revisions, err := json.Marshal(sess.ChapterRevisions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, notes, stage, chapter, outline_revision, chapter_revisions, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		sess.ID,
		sess.Title,
		sess.Notes,
		string(sess.Stage),
		sess.Chapter,
		sess.OutlineRevision,
		string(revisions),
		sess.FailureReason,
		sess.CreatedAt.UnixNano(),
		sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrSessionExists
	}
	return nil
}

func (s *PostgresStateStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	revisions, err := json.Marshal(sess.ChapterRevisions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET title             = $1,
		    notes             = $2,
		    stage             = $3,
		    chapter           = $4,
		    outline_revision  = $5,
		    chapter_revisions = $6,
		    failure_reason    = $7,
		    updated_at        = $8
		WHERE id = $9
	`,
		sess.Title,
		sess.Notes,
		string(sess.Stage),
		sess.Chapter,
		sess.OutlineRevision,
		string(revisions),
		sess.FailureReason,
		sess.UpdatedAt.UnixNano(),
		sess.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrSessionNotFound
	}

	return nil
}

func (s *PostgresStateStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, notes, stage, chapter, outline_revision, chapter_revisions, failure_reason, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`,
		id,
	)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *PostgresStateStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error) {
	query := `
		SELECT id, title, notes, stage, chapter, outline_revision, chapter_revisions, failure_reason, created_at, updated_at
		FROM sessions`
	var args []any
	var clauses []string

	if filter.Stage != "" {
		clauses = append(clauses, fmt.Sprintf("stage = $%d", len(args)+1))
		args = append(args, string(filter.Stage))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, fmt.Sprintf("stage NOT IN ($%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, string(api.StageBookComplete), string(api.StageFailed))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*api.Session

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

func (s *PostgresStateStore) PutOutline(ctx context.Context, o *api.Outline) error {
	chapters, err := json.Marshal(o.Chapters)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outlines (session_id, revision, approved, content, chapters)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			revision = EXCLUDED.revision,
			approved = EXCLUDED.approved,
			content = EXCLUDED.content,
			chapters = EXCLUDED.chapters
	`,
		o.SessionID,
		o.Revision,
		o.Approved,
		o.Content,
		string(chapters),
	)
	return err
}

func (s *PostgresStateStore) GetOutline(ctx context.Context, sessionID string) (*api.Outline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, revision, approved, content, chapters
		FROM outlines
		WHERE session_id = $1
	`,
		sessionID,
	)

	var (
		o            api.Outline
		chaptersJSON string
	)
	if err := row.Scan(&o.SessionID, &o.Revision, &o.Approved, &o.Content, &chaptersJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrRecordNotFound
		}
		return nil, err
	}

	if chaptersJSON != "" && chaptersJSON != "null" {
		if err := json.Unmarshal([]byte(chaptersJSON), &o.Chapters); err != nil {
			return nil, err
		}
	}

	return &o, nil
}

func (s *PostgresStateStore) PutDraft(ctx context.Context, d *api.ChapterDraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_drafts (session_id, chapter, revision, approved, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, chapter) DO UPDATE SET
			revision = EXCLUDED.revision,
			approved = EXCLUDED.approved,
			content = EXCLUDED.content
	`,
		d.SessionID,
		d.Chapter,
		d.Revision,
		d.Approved,
		d.Content,
	)
	return err
}

func (s *PostgresStateStore) GetDraft(ctx context.Context, sessionID string, chapter int) (*api.ChapterDraft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, chapter, revision, approved, content
		FROM chapter_drafts
		WHERE session_id = $1 AND chapter = $2
	`,
		sessionID,
		chapter,
	)

	var d api.ChapterDraft
	if err := row.Scan(&d.SessionID, &d.Chapter, &d.Revision, &d.Approved, &d.Content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrRecordNotFound
		}
		return nil, err
	}

	return &d, nil
}

func (s *PostgresStateStore) ListDrafts(ctx context.Context, sessionID string) ([]*api.ChapterDraft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, chapter, revision, approved, content
		FROM chapter_drafts
		WHERE session_id = $1
		ORDER BY chapter ASC
	`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*api.ChapterDraft

	for rows.Next() {
		var d api.ChapterDraft
		if err := rows.Scan(&d.SessionID, &d.Chapter, &d.Revision, &d.Approved, &d.Content); err != nil {
			return nil, err
		}

		// Copy to avoid pointer aliasing
		copied := d
		drafts = append(drafts, &copied)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return drafts, nil
}

func (s *PostgresStateStore) TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()
	nowInt := now.UnixNano()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET lease_owner = $1, lease_expires_at = $2
		WHERE id = $3
		AND (
			lease_owner = ''
			OR lease_expires_at <= $4
			OR lease_owner = $5
		)`,
		owner, expires, sessionID, nowInt, owner,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, nil
}

func (s *PostgresStateStore) RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET lease_expires_at = $1
		WHERE id = $2 AND lease_owner = $3`,
		expires, sessionID, owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrSessionBusy
	}
	return nil
}

func (s *PostgresStateStore) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET lease_owner = '', lease_expires_at = 0
		WHERE id = $1 AND (lease_owner = '' OR lease_owner = $2)`,
		sessionID, owner,
	)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}
