package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

// PostgresMemoryStore is an api.MemoryStore backed by PostgreSQL.
//
// Messages are stored in an append-only table ordered by a BIGSERIAL
// column, so Context returns them in the order they were appended.
type PostgresMemoryStore struct {
	db *sql.DB
}

// Ensure PostgresMemoryStore implements api.MemoryStore.
var _ api.MemoryStore = (*PostgresMemoryStore)(nil)

// NewPostgresMemoryStore initializes the required schema in the given
// database and returns a new PostgresMemoryStore.
func NewPostgresMemoryStore(db *sql.DB) (*PostgresMemoryStore, error) {
	s := &PostgresMemoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresMemoryStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_messages (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session_id
			ON session_messages (session_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresMemoryStore) Append(ctx context.Context, sessionID string, msg api.Message) error {
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, role, content, at)
		VALUES ($1, $2, $3, $4)
	`,
		sessionID,
		string(msg.Role),
		msg.Content,
		at.UnixNano(),
	)
	return err
}

func (s *PostgresMemoryStore) Context(ctx context.Context, sessionID string) ([]api.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY id ASC
	`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []api.Message

	for rows.Next() {
		var (
			role    string
			content string
			at      int64
		)
		if err := rows.Scan(&role, &content, &at); err != nil {
			return nil, err
		}
		messages = append(messages, api.Message{
			Role:    api.Role(role),
			Content: content,
			At:      time.Unix(0, at),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
