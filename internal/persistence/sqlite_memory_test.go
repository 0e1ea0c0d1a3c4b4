package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jmakela/tome/pkg/api"
)

func newTestSQLiteMemory(t *testing.T) *SQLiteMemoryStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteMemoryStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteMemoryStore failed: %v", err)
	}

	return store
}

func TestSQLiteMemoryStore_AppendAndContext(t *testing.T) {
	store := newTestSQLiteMemory(t)
	ctx := context.Background()

	msgs := []api.Message{
		{Role: api.RoleUser, Content: "write me a book about tides"},
		{Role: api.RoleAssistant, Content: "outline: ..."},
		{Role: api.RoleReviewer, Content: "shorten chapter one"},
	}
	for _, msg := range msgs {
		if err := store.Append(ctx, "sess-1", msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// A message for another session must not bleed in.
	if err := store.Append(ctx, "sess-2", api.Message{Role: api.RoleUser, Content: "other"}); err != nil {
		t.Fatalf("Append (other session) failed: %v", err)
	}

	got, err := store.Context(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i := range msgs {
		if got[i].Role != msgs[i].Role || got[i].Content != msgs[i].Content {
			t.Fatalf("message %d mismatch: %+v", i, got[i])
		}
		if got[i].At.IsZero() {
			t.Fatalf("message %d has zero timestamp", i)
		}
	}
}

func TestSQLiteMemoryStore_EmptyContext(t *testing.T) {
	store := newTestSQLiteMemory(t)

	got, err := store.Context(context.Background(), "nothing-here")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty context, got %d messages", len(got))
	}
}
