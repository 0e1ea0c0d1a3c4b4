package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// PostgresHistoryStore is an api.HistoryStore backed by PostgreSQL.
type PostgresHistoryStore struct {
	db *sql.DB
}

// Ensure PostgresHistoryStore implements api.HistoryStore.
var _ api.HistoryStore = (*PostgresHistoryStore)(nil)

// NewPostgresHistoryStore initializes the required schema in the given
// database and returns a new PostgresHistoryStore.
func NewPostgresHistoryStore(db *sql.DB) (*PostgresHistoryStore, error) {
	s := &PostgresHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chapter_summaries (
			session_id TEXT NOT NULL,
			chapter INTEGER NOT NULL,
			content TEXT NOT NULL,
			recorded_at BIGINT NOT NULL,
			PRIMARY KEY (session_id, chapter)
		)
	`)
	return err
}

func (s *PostgresHistoryStore) RecordSummary(ctx context.Context, summary api.ChapterSummary) error {
	recordedAt := summary.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_summaries (session_id, chapter, content, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, chapter) DO UPDATE SET
			content = EXCLUDED.content,
			recorded_at = EXCLUDED.recorded_at
	`,
		summary.SessionID,
		summary.Chapter,
		summary.Content,
		recordedAt.UnixNano(),
	)
	return err
}

func (s *PostgresHistoryStore) Summaries(ctx context.Context, sessionID string) ([]api.ChapterSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, chapter, content, recorded_at
		FROM chapter_summaries
		WHERE session_id = $1
		ORDER BY chapter ASC
	`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []api.ChapterSummary

	for rows.Next() {
		var (
			s2         api.ChapterSummary
			recordedAt int64
		)
		if err := rows.Scan(&s2.SessionID, &s2.Chapter, &s2.Content, &recordedAt); err != nil {
			return nil, err
		}
		s2.RecordedAt = time.Unix(0, recordedAt)
		summaries = append(summaries, s2)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}
