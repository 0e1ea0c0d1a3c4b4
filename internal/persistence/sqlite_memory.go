package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// SQLiteMemoryStore stores session memory messages in SQLite.
// Append order is preserved by the autoincrement row ID.
type SQLiteMemoryStore struct {
	db *sql.DB
}

// Ensure SQLiteMemoryStore implements the interface.
var _ api.MemoryStore = (*SQLiteMemoryStore)(nil)

func NewSQLiteMemoryStore(db *sql.DB) (*SQLiteMemoryStore, error) {
	s := &SQLiteMemoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMemoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session_id ON session_messages(session_id, id);
	`)
	return err
}

func (s *SQLiteMemoryStore) Append(ctx context.Context, sessionID string, msg api.Message) error {
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, role, content, at)
		VALUES (?, ?, ?, ?)`,
		sessionID,
		string(msg.Role),
		msg.Content,
		at.UnixNano(),
	)
	return err
}

func (s *SQLiteMemoryStore) Context(ctx context.Context, sessionID string) ([]api.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Message
	for rows.Next() {
		var (
			role    string
			content string
			atN     int64
		)
		if err := rows.Scan(&role, &content, &atN); err != nil {
			return nil, err
		}
		out = append(out, api.Message{
			Role:    api.Role(role),
			Content: content,
			At:      time.Unix(0, atN),
		})
	}
	return out, rows.Err()
}
