package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/jmakela/tome/internal/testutil"
	"github.com/jmakela/tome/pkg/api"
)

const redisTestPrefix = "tome:test:"

type RedisStoreTestSuite struct {
	suite.Suite
	endpoint string
	store    *RedisStateStore
	memory   *RedisMemoryStore
	history  *RedisHistoryStore
	client   *redis.Client
}

func TestRedisStoreTestSuite(t *testing.T) {
	testsuite := new(RedisStoreTestSuite)
	testsuite.endpoint = testutil.GetRedisAddress(t)
	initTestRedisStore(t, testsuite)
	suite.Run(t, testsuite)
}

func (r *RedisStoreTestSuite) SetupTest() {
	ctx := context.Background()

	// Clean up all keys with this prefix.
	iter := r.client.Scan(ctx, 0, redisTestPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		err := r.client.Del(ctx, iter.Val()).Err()
		r.NoErrorf(err, "redis DEL %q failed: %v", iter.Val(), err)
	}
	r.NoError(iter.Err(), "redis SCAN failed")
}

// initTestRedisStore connects to Redis using the address in the suite and
// fills it with stores using a test-specific prefix.
func initTestRedisStore(t *testing.T, ts *RedisStoreTestSuite) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: ts.endpoint,
	})
	t.Cleanup(func() {
		_ = client.Close()
	})
	ts.client = client

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	ts.store = NewRedisStateStore(client, redisTestPrefix)
	ts.memory = NewRedisMemoryStore(client, redisTestPrefix)
	ts.history = NewRedisHistoryStore(client, redisTestPrefix)
}

func (r *RedisStoreTestSuite) TestRedisStateStore_SaveGetUpdate() {
	ctx := context.Background()

	sess := &api.Session{
		ID:        "redis-sess-1",
		Title:     "A Study of Tides",
		Stage:     api.StageInit,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	err := r.store.SaveSession(ctx, sess)
	r.NoErrorf(err, "SaveSession failed: %v", err)

	got, err := r.store.GetSession(ctx, "redis-sess-1")
	r.NoErrorf(err, "GetSession failed: %v", err)
	r.Equal(sess.ID, got.ID)
	r.Equal(sess.Title, got.Title)
	r.Equal(api.StageInit, got.Stage)

	sess.Stage = api.StageChapterReview
	sess.Chapter = 2
	sess.ChapterRevisions = map[int]int{1: 1, 2: 1}

	err = r.store.UpdateSession(ctx, sess)
	r.NoErrorf(err, "UpdateSession failed: %v", err)

	got2, err := r.store.GetSession(ctx, "redis-sess-1")
	r.NoErrorf(err, "GetSession after update failed: %v", err)
	r.Equal(api.StageChapterReview, got2.Stage)
	r.Equal(2, got2.Chapter)
	r.Equal(1, got2.ChapterRevision(2))
}

func (r *RedisStoreTestSuite) TestRedisStateStore_SaveSessionDuplicate() {
	ctx := context.Background()

	err := r.store.SaveSession(ctx, &api.Session{ID: "redis-dup", Stage: api.StageInit})
	r.NoErrorf(err, "SaveSession failed: %v", err)

	err = r.store.SaveSession(ctx, &api.Session{ID: "redis-dup", Stage: api.StageInit})
	r.True(errors.Is(err, api.ErrSessionExists), "expected ErrSessionExists, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStateStore_GetSessionNotFound() {
	_, err := r.store.GetSession(context.Background(), "does-not-exist")
	r.True(errors.Is(err, api.ErrSessionNotFound), "expected ErrSessionNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStateStore_UpdateSessionNotFound() {
	err := r.store.UpdateSession(context.Background(), &api.Session{ID: "ghost", Stage: api.StageInit})
	r.True(errors.Is(err, api.ErrSessionNotFound), "expected ErrSessionNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStateStore_ListFiltersStaleIndexEntries() {
	ctx := context.Background()

	base := time.Now()
	sess := &api.Session{ID: "redis-stale", Stage: api.StageOutlineReview, CreatedAt: base}
	err := r.store.SaveSession(ctx, sess)
	r.NoErrorf(err, "SaveSession failed: %v", err)

	other := &api.Session{ID: "redis-active", Stage: api.StageOutlineReview, CreatedAt: base.Add(time.Second)}
	err = r.store.SaveSession(ctx, other)
	r.NoErrorf(err, "SaveSession (other) failed: %v", err)

	// Move the first session on; its ID lingers in the old stage index.
	sess.Stage = api.StageOutlineApproved
	err = r.store.UpdateSession(ctx, sess)
	r.NoErrorf(err, "UpdateSession failed: %v", err)

	reviews, err := r.store.ListSessions(ctx, SessionFilter{Stage: api.StageOutlineReview})
	r.NoErrorf(err, "ListSessions failed: %v", err)
	r.Len(reviews, 1)
	r.Equal("redis-active", reviews[0].ID)

	all, err := r.store.ListSessions(ctx, SessionFilter{})
	r.NoErrorf(err, "ListSessions (no filter) failed: %v", err)
	r.Len(all, 2)
	r.Equal("redis-stale", all[0].ID, "expected oldest session first")
}

func (r *RedisStoreTestSuite) TestRedisStateStore_OutlineAndDrafts() {
	ctx := context.Background()

	_, err := r.store.GetOutline(ctx, "redis-out")
	r.True(errors.Is(err, api.ErrRecordNotFound), "expected ErrRecordNotFound, got %v", err)

	outline := &api.Outline{
		SessionID: "redis-out",
		Revision:  1,
		Content:   "1. Beginnings",
		Chapters:  []api.OutlineChapter{{Index: 1, Title: "Beginnings", Synopsis: "Where it starts."}},
	}
	err = r.store.PutOutline(ctx, outline)
	r.NoErrorf(err, "PutOutline failed: %v", err)

	got, err := r.store.GetOutline(ctx, "redis-out")
	r.NoErrorf(err, "GetOutline failed: %v", err)
	r.Equal(1, got.Revision)
	r.Len(got.Chapters, 1)

	for _, ch := range []int{2, 1} {
		err := r.store.PutDraft(ctx, &api.ChapterDraft{SessionID: "redis-out", Chapter: ch, Revision: 1, Content: "text"})
		r.NoErrorf(err, "PutDraft(%d) failed: %v", ch, err)
	}

	drafts, err := r.store.ListDrafts(ctx, "redis-out")
	r.NoErrorf(err, "ListDrafts failed: %v", err)
	r.Len(drafts, 2)
	r.Equal(1, drafts[0].Chapter)
	r.Equal(2, drafts[1].Chapter)

	_, err = r.store.GetDraft(ctx, "redis-out", 9)
	r.True(errors.Is(err, api.ErrRecordNotFound), "expected ErrRecordNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStateStore_LeaseAcquireRenewRelease() {
	ctx := context.Background()

	acq, err := r.store.TryAcquireLease(ctx, "redis-lease", "owner1", 100*time.Millisecond)
	r.NoErrorf(err, "TryAcquireLease owner1: %v", err)
	r.True(acq, "expected owner1 to acquire")

	// Re-entrant for the same owner.
	again, err := r.store.TryAcquireLease(ctx, "redis-lease", "owner1", 100*time.Millisecond)
	r.NoErrorf(err, "TryAcquireLease owner1 again: %v", err)
	r.True(again, "expected re-entrant acquire for same owner")

	acq2, err := r.store.TryAcquireLease(ctx, "redis-lease", "owner2", 100*time.Millisecond)
	r.NoErrorf(err, "TryAcquireLease owner2: %v", err)
	r.False(acq2, "expected owner2 not to acquire while active")

	err = r.store.RenewLease(ctx, "redis-lease", "owner1", 100*time.Millisecond)
	r.NoErrorf(err, "RenewLease owner1: %v", err)

	err = r.store.RenewLease(ctx, "redis-lease", "owner2", 100*time.Millisecond)
	r.True(errors.Is(err, api.ErrSessionBusy), "expected ErrSessionBusy, got %v", err)

	err = r.store.ReleaseLease(ctx, "redis-lease", "owner1")
	r.NoErrorf(err, "ReleaseLease: %v", err)

	acq3, err := r.store.TryAcquireLease(ctx, "redis-lease", "owner2", 100*time.Millisecond)
	r.NoErrorf(err, "TryAcquireLease owner2 after release: %v", err)
	r.True(acq3, "expected owner2 to acquire after release")
}

func (r *RedisStoreTestSuite) TestRedisStateStore_LeaseExpires() {
	ctx := context.Background()

	acq, err := r.store.TryAcquireLease(ctx, "redis-exp", "owner1", 20*time.Millisecond)
	r.NoErrorf(err, "TryAcquireLease owner1: %v", err)
	r.True(acq, "expected owner1 to acquire")

	time.Sleep(30 * time.Millisecond)

	acq2, err := r.store.TryAcquireLease(ctx, "redis-exp", "owner2", 20*time.Millisecond)
	r.NoErrorf(err, "TryAcquireLease owner2: %v", err)
	r.True(acq2, "expected owner2 to acquire after expiry")
}

func (r *RedisStoreTestSuite) TestRedisMemoryStore_AppendAndContext() {
	ctx := context.Background()

	msgs := []api.Message{
		{Role: api.RoleUser, Content: "write me a book about tides"},
		{Role: api.RoleAssistant, Content: "outline: ..."},
	}
	for _, msg := range msgs {
		err := r.memory.Append(ctx, "redis-mem", msg)
		r.NoErrorf(err, "Append failed: %v", err)
	}

	got, err := r.memory.Context(ctx, "redis-mem")
	r.NoErrorf(err, "Context failed: %v", err)
	r.Len(got, 2)
	for i := range msgs {
		r.Equal(msgs[i].Role, got[i].Role)
		r.Equal(msgs[i].Content, got[i].Content)
		r.False(got[i].At.IsZero(), "message %d has zero timestamp", i)
	}

	empty, err := r.memory.Context(ctx, "redis-mem-none")
	r.NoErrorf(err, "Context (empty) failed: %v", err)
	r.Empty(empty)
}

func (r *RedisStoreTestSuite) TestRedisHistoryStore_RecordAndList() {
	ctx := context.Background()

	for _, ch := range []int{2, 1} {
		err := r.history.RecordSummary(ctx, api.ChapterSummary{SessionID: "redis-hist", Chapter: ch, Content: "what happened"})
		r.NoErrorf(err, "RecordSummary(%d) failed: %v", ch, err)
	}

	err := r.history.RecordSummary(ctx, api.ChapterSummary{SessionID: "redis-hist", Chapter: 1, Content: "revised summary"})
	r.NoErrorf(err, "RecordSummary (rewrite) failed: %v", err)

	got, err := r.history.Summaries(ctx, "redis-hist")
	r.NoErrorf(err, "Summaries failed: %v", err)
	r.Len(got, 2)
	r.Equal(1, got[0].Chapter)
	r.Equal(2, got[1].Chapter)
	r.Equal("revised summary", got[0].Content)
}
