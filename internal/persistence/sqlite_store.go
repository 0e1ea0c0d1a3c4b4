package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// SQLiteStateStore is a StateStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStateStore struct {
	db *sql.DB
}

// Ensure SQLiteStateStore implements StateStore.
var _ StateStore = (*SQLiteStateStore)(nil)

// NewSQLiteStateStore initializes the required schema in the given
// database and returns a new SQLiteStateStore.
func NewSQLiteStateStore(db *sql.DB) (*SQLiteStateStore, error) {
	s := &SQLiteStateStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStateStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			chapter INTEGER NOT NULL DEFAULT 0,
			outline_revision INTEGER NOT NULL DEFAULT 0,
			chapter_revisions TEXT NOT NULL DEFAULT '{}',
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS outlines (
			session_id TEXT PRIMARY KEY,
			revision INTEGER NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			chapters TEXT NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS chapter_drafts (
			session_id TEXT NOT NULL,
			chapter INTEGER NOT NULL,
			revision INTEGER NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			PRIMARY KEY (session_id, chapter)
		);`,
	)
	return err
}

func (s *SQLiteStateStore) SaveSession(ctx context.Context, sess *api.Session) error {
	revisions, err := json.Marshal(sess.ChapterRevisions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, notes, stage, chapter, outline_revision, chapter_revisions, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return api.ErrSessionExists
	}
	return err
}

func (s *SQLiteStateStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	revisions, err := json.Marshal(sess.ChapterRevisions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET title = ?, notes = ?, stage = ?, chapter = ?, outline_revision = ?, chapter_revisions = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
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

func (s *SQLiteStateStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, notes, stage, chapter, outline_revision, chapter_revisions, failure_reason, created_at, updated_at
		FROM sessions
		WHERE id = ?`,
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

func (s *SQLiteStateStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error) {
	query := `
		SELECT id, title, notes, stage, chapter, outline_revision, chapter_revisions, failure_reason, created_at, updated_at
		FROM sessions`
	var args []any
	var clauses []string

	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "stage NOT IN (?, ?)")
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

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*api.Session, error) {
	var (
		sess          api.Session
		stageStr      string
		revisionsJSON string
		createdAtN    int64
		updatedAtN    int64
	)

	if err := row.Scan(
		&sess.ID,
		&sess.Title,
		&sess.Notes,
		&stageStr,
		&sess.Chapter,
		&sess.OutlineRevision,
		&revisionsJSON,
		&sess.FailureReason,
		&createdAtN,
		&updatedAtN,
	); err != nil {
		return nil, err
	}

	sess.Stage = api.Stage(stageStr)
	sess.CreatedAt = time.Unix(0, createdAtN)
	sess.UpdatedAt = time.Unix(0, updatedAtN)

	if revisionsJSON != "" && revisionsJSON != "{}" && revisionsJSON != "null" {
		if err := json.Unmarshal([]byte(revisionsJSON), &sess.ChapterRevisions); err != nil {
			return nil, err
		}
	}

	return &sess, nil
}

func (s *SQLiteStateStore) PutOutline(ctx context.Context, o *api.Outline) error {
	chapters, err := json.Marshal(o.Chapters)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outlines (session_id, revision, approved, content, chapters)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			revision = excluded.revision,
			approved = excluded.approved,
			content = excluded.content,
			chapters = excluded.chapters`,
		o.SessionID,
		o.Revision,
		boolToInt(o.Approved),
		o.Content,
		string(chapters),
	)
	return err
}

func (s *SQLiteStateStore) GetOutline(ctx context.Context, sessionID string) (*api.Outline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, revision, approved, content, chapters
		FROM outlines
		WHERE session_id = ?`,
		sessionID,
	)

	var (
		o            api.Outline
		approvedInt  int
		chaptersJSON string
	)
	if err := row.Scan(&o.SessionID, &o.Revision, &approvedInt, &o.Content, &chaptersJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrRecordNotFound
		}
		return nil, err
	}

	o.Approved = approvedInt != 0
	if chaptersJSON != "" && chaptersJSON != "null" {
		if err := json.Unmarshal([]byte(chaptersJSON), &o.Chapters); err != nil {
			return nil, err
		}
	}

	return &o, nil
}

func (s *SQLiteStateStore) PutDraft(ctx context.Context, d *api.ChapterDraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_drafts (session_id, chapter, revision, approved, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chapter) DO UPDATE SET
			revision = excluded.revision,
			approved = excluded.approved,
			content = excluded.content`,
		d.SessionID,
		d.Chapter,
		d.Revision,
		boolToInt(d.Approved),
		d.Content,
	)
	return err
}

func (s *SQLiteStateStore) GetDraft(ctx context.Context, sessionID string, chapter int) (*api.ChapterDraft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, chapter, revision, approved, content
		FROM chapter_drafts
		WHERE session_id = ? AND chapter = ?`,
		sessionID,
		chapter,
	)

	var (
		d           api.ChapterDraft
		approvedInt int
	)
	if err := row.Scan(&d.SessionID, &d.Chapter, &d.Revision, &approvedInt, &d.Content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrRecordNotFound
		}
		return nil, err
	}

	d.Approved = approvedInt != 0
	return &d, nil
}

func (s *SQLiteStateStore) ListDrafts(ctx context.Context, sessionID string) ([]*api.ChapterDraft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, chapter, revision, approved, content
		FROM chapter_drafts
		WHERE session_id = ?
		ORDER BY chapter ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*api.ChapterDraft

	for rows.Next() {
		var (
			d           api.ChapterDraft
			approvedInt int
		)
		if err := rows.Scan(&d.SessionID, &d.Chapter, &d.Revision, &approvedInt, &d.Content); err != nil {
			return nil, err
		}
		d.Approved = approvedInt != 0

		// Note: d is re-used each loop, so take a copy.
		copied := d
		drafts = append(drafts, &copied)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return drafts, nil
}

func (s *SQLiteStateStore) TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()
	nowInt := now.UnixNano()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET lease_owner = ?, lease_expires_at = ?
		WHERE id = ?
		AND (
			lease_owner = ''
			OR lease_expires_at <= ?
			OR lease_owner = ?
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

func (s *SQLiteStateStore) RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET lease_expires_at = ?
		WHERE id = ? AND lease_owner = ?`,
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

func (s *SQLiteStateStore) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET lease_owner = '', lease_expires_at = 0
		WHERE id = ? AND (lease_owner = '' OR lease_owner = ?)`,
		sessionID, owner,
	)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
