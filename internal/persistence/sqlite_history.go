package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// SQLiteHistoryStore stores chapter summaries in SQLite. RecordSummary is
// an upsert keyed (session_id, chapter), so replaying a summary write after
// a crash leaves exactly one record.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// Ensure SQLiteHistoryStore implements the interface.
var _ api.HistoryStore = (*SQLiteHistoryStore)(nil)

func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	s := &SQLiteHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chapter_summaries (
			session_id TEXT NOT NULL,
			chapter INTEGER NOT NULL,
			content TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, chapter)
		);`,
	)
	return err
}

func (s *SQLiteHistoryStore) RecordSummary(ctx context.Context, summary api.ChapterSummary) error {
	at := summary.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_summaries (session_id, chapter, content, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, chapter) DO UPDATE SET
			content = excluded.content,
			recorded_at = excluded.recorded_at`,
		summary.SessionID,
		summary.Chapter,
		summary.Content,
		at.UnixNano(),
	)
	return err
}

func (s *SQLiteHistoryStore) Summaries(ctx context.Context, sessionID string) ([]api.ChapterSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, chapter, content, recorded_at
		FROM chapter_summaries
		WHERE session_id = ?
		ORDER BY chapter ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.ChapterSummary
	for rows.Next() {
		var (
			sum api.ChapterSummary
			atN int64
		)
		if err := rows.Scan(&sum.SessionID, &sum.Chapter, &sum.Content, &atN); err != nil {
			return nil, err
		}
		sum.RecordedAt = time.Unix(0, atN)
		out = append(out, sum)
	}
	return out, rows.Err()
}
