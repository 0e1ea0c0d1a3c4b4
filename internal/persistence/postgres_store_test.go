package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jmakela/tome/pkg/api"
)

func (p *PostgresStoreTestSuite) TestPostgresStateStore_SaveGetUpdate() {
	ctx := context.Background()

	sess := &api.Session{
		ID:        "pg-sess-1",
		Title:     "A Study of Tides",
		Notes:     "coastal setting",
		Stage:     api.StageInit,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	err := p.store.SaveSession(ctx, sess)
	p.NoErrorf(err, "SaveSession failed: %v", err)

	got, err := p.store.GetSession(ctx, "pg-sess-1")
	p.NoErrorf(err, "GetSession failed: %v", err)

	p.Equal(sess.ID, got.ID)
	p.Equal(sess.Title, got.Title)
	p.Equal(sess.Notes, got.Notes)
	p.Equal(api.StageInit, got.Stage)

	// Update stage, chapter and revision counters.
	sess.Stage = api.StageChapterReview
	sess.Chapter = 3
	sess.OutlineRevision = 2
	sess.ChapterRevisions = map[int]int{1: 1, 2: 2, 3: 1}
	sess.UpdatedAt = time.Now()

	err = p.store.UpdateSession(ctx, sess)
	p.NoErrorf(err, "UpdateSession failed: %v", err)

	got2, err := p.store.GetSession(ctx, "pg-sess-1")
	p.NoErrorf(err, "GetSession after update failed: %v", err)

	p.Equal(api.StageChapterReview, got2.Stage)
	p.Equal(3, got2.Chapter)
	p.Equal(2, got2.OutlineRevision)
	p.Equal(2, got2.ChapterRevision(2))
}

func (p *PostgresStoreTestSuite) TestPostgresStateStore_SaveSessionDuplicate() {
	ctx := context.Background()

	sess := &api.Session{ID: "pg-dup", Title: "First", Stage: api.StageInit}
	err := p.store.SaveSession(ctx, sess)
	p.NoErrorf(err, "SaveSession failed: %v", err)

	err = p.store.SaveSession(ctx, &api.Session{ID: "pg-dup", Title: "Second", Stage: api.StageInit})
	p.True(errors.Is(err, api.ErrSessionExists), "expected ErrSessionExists, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStateStore_GetSessionNotFound() {
	_, err := p.store.GetSession(context.Background(), "does-not-exist")
	p.True(errors.Is(err, api.ErrSessionNotFound), "expected ErrSessionNotFound, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStateStore_UpdateSessionNotFound() {
	err := p.store.UpdateSession(context.Background(), &api.Session{ID: "ghost", Stage: api.StageInit})
	p.True(errors.Is(err, api.ErrSessionNotFound), "expected ErrSessionNotFound, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStateStore_ListSessionsFilter() {
	ctx := context.Background()

	base := time.Now()
	sessions := []*api.Session{
		{ID: "pg-s-1", Stage: api.StageOutlineReview, CreatedAt: base, UpdatedAt: base},
		{ID: "pg-s-2", Stage: api.StageChapterReview, CreatedAt: base.Add(time.Second), UpdatedAt: base},
		{ID: "pg-s-3", Stage: api.StageBookComplete, CreatedAt: base.Add(2 * time.Second), UpdatedAt: base},
		{ID: "pg-s-4", Stage: api.StageFailed, CreatedAt: base.Add(3 * time.Second), UpdatedAt: base},
	}
	for _, sess := range sessions {
		err := p.store.SaveSession(ctx, sess)
		p.NoErrorf(err, "SaveSession(%s) failed: %v", sess.ID, err)
	}

	all, err := p.store.ListSessions(ctx, SessionFilter{})
	p.NoErrorf(err, "ListSessions (no filter) failed: %v", err)
	p.Len(all, 4)
	p.Equal("pg-s-1", all[0].ID)
	p.Equal("pg-s-4", all[3].ID)

	reviews, err := p.store.ListSessions(ctx, SessionFilter{Stage: api.StageChapterReview})
	p.NoErrorf(err, "ListSessions (stage filter) failed: %v", err)
	p.Len(reviews, 1)
	p.Equal("pg-s-2", reviews[0].ID)

	active, err := p.store.ListSessions(ctx, SessionFilter{ActiveOnly: true})
	p.NoErrorf(err, "ListSessions (active only) failed: %v", err)
	p.Len(active, 2)
	for _, sess := range active {
		p.False(sess.Stage.Terminal(), "terminal session %s in active list", sess.ID)
	}
}

func (p *PostgresStoreTestSuite) TestPostgresStateStore_OutlineRoundtrip() {
	ctx := context.Background()

	_, err := p.store.GetOutline(ctx, "pg-out")
	p.True(errors.Is(err, api.ErrRecordNotFound), "expected ErrRecordNotFound, got %v", err)

	outline := &api.Outline{
		SessionID: "pg-out",
		Revision:  1,
		Content:   "1. Beginnings\n2. Middles",
		Chapters: []api.OutlineChapter{
			{Index: 1, Title: "Beginnings", Synopsis: "Where it starts."},
			{Index: 2, Title: "Middles", Synopsis: "Where it continues."},
		},
	}
	err = p.store.PutOutline(ctx, outline)
	p.NoErrorf(err, "PutOutline failed: %v", err)

	got, err := p.store.GetOutline(ctx, "pg-out")
	p.NoErrorf(err, "GetOutline failed: %v", err)
	p.Equal(1, got.Revision)
	p.Len(got.Chapters, 2)
	p.Equal("Middles", got.Chapters[1].Title)

	outline.Revision = 2
	outline.Approved = true
	err = p.store.PutOutline(ctx, outline)
	p.NoErrorf(err, "PutOutline (rewrite) failed: %v", err)

	got2, err := p.store.GetOutline(ctx, "pg-out")
	p.NoErrorf(err, "GetOutline after rewrite failed: %v", err)
	p.Equal(2, got2.Revision)
	p.True(got2.Approved)
}

func (p *PostgresStoreTestSuite) TestPostgresStateStore_DraftsPerChapter() {
	ctx := context.Background()

	_, err := p.store.GetDraft(ctx, "pg-dr", 1)
	p.True(errors.Is(err, api.ErrRecordNotFound), "expected ErrRecordNotFound, got %v", err)

	for _, ch := range []int{3, 1, 2} {
		err := p.store.PutDraft(ctx, &api.ChapterDraft{
			SessionID: "pg-dr",
			Chapter:   ch,
			Revision:  1,
			Content:   "chapter text",
		})
		p.NoErrorf(err, "PutDraft(%d) failed: %v", ch, err)
	}

	drafts, err := p.store.ListDrafts(ctx, "pg-dr")
	p.NoErrorf(err, "ListDrafts failed: %v", err)
	p.Len(drafts, 3)
	for i, d := range drafts {
		p.Equal(i+1, d.Chapter)
	}

	err = p.store.PutDraft(ctx, &api.ChapterDraft{SessionID: "pg-dr", Chapter: 2, Revision: 2, Approved: true, Content: "revised"})
	p.NoErrorf(err, "PutDraft (rewrite) failed: %v", err)

	got, err := p.store.GetDraft(ctx, "pg-dr", 2)
	p.NoErrorf(err, "GetDraft failed: %v", err)
	p.Equal(2, got.Revision)
	p.True(got.Approved)
	p.Equal("revised", got.Content)
}

func (p *PostgresStoreTestSuite) TestPostgresMemoryStore_AppendAndContext() {
	ctx := context.Background()

	msgs := []api.Message{
		{Role: api.RoleUser, Content: "write me a book about tides"},
		{Role: api.RoleAssistant, Content: "outline: ..."},
		{Role: api.RoleReviewer, Content: "shorten chapter one"},
	}
	for _, msg := range msgs {
		err := p.memory.Append(ctx, "pg-mem", msg)
		p.NoErrorf(err, "Append failed: %v", err)
	}

	err := p.memory.Append(ctx, "pg-mem-other", api.Message{Role: api.RoleUser, Content: "other"})
	p.NoErrorf(err, "Append (other session) failed: %v", err)

	got, err := p.memory.Context(ctx, "pg-mem")
	p.NoErrorf(err, "Context failed: %v", err)
	p.Len(got, 3)
	for i := range msgs {
		p.Equal(msgs[i].Role, got[i].Role)
		p.Equal(msgs[i].Content, got[i].Content)
		p.False(got[i].At.IsZero(), "message %d has zero timestamp", i)
	}
}

func (p *PostgresStoreTestSuite) TestPostgresHistoryStore_RecordAndList() {
	ctx := context.Background()

	for _, ch := range []int{2, 1} {
		err := p.history.RecordSummary(ctx, api.ChapterSummary{
			SessionID: "pg-hist",
			Chapter:   ch,
			Content:   "what happened",
		})
		p.NoErrorf(err, "RecordSummary(%d) failed: %v", ch, err)
	}

	// Re-recording chapter 1 must replace, not duplicate.
	err := p.history.RecordSummary(ctx, api.ChapterSummary{SessionID: "pg-hist", Chapter: 1, Content: "revised summary"})
	p.NoErrorf(err, "RecordSummary (rewrite) failed: %v", err)

	got, err := p.history.Summaries(ctx, "pg-hist")
	p.NoErrorf(err, "Summaries failed: %v", err)
	p.Len(got, 2)
	p.Equal(1, got[0].Chapter)
	p.Equal(2, got[1].Chapter)
	p.Equal("revised summary", got[0].Content)
}
