package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmakela/tome/pkg/api"
)

// RedisHistoryStore is an api.HistoryStore backed by Redis.
// Summaries for a session live in a hash at <prefix>hist:<id>,
// keyed by chapter number.
type RedisHistoryStore struct {
	client *redis.Client
	prefix string
}

var _ api.HistoryStore = (*RedisHistoryStore)(nil)

// NewRedisHistoryStore creates a RedisHistoryStore.
// prefix is optional but recommended (e.g. "tome:").
func NewRedisHistoryStore(client *redis.Client, prefix string) *RedisHistoryStore {
	if prefix == "" {
		prefix = "tome:"
	}
	return &RedisHistoryStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisHistoryStore) keySummaries(id string) string {
	return r.prefix + "hist:" + id
}

func (r *RedisHistoryStore) RecordSummary(ctx context.Context, summary api.ChapterSummary) error {
	if summary.RecordedAt.IsZero() {
		summary.RecordedAt = time.Now()
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.keySummaries(summary.SessionID), strconv.Itoa(summary.Chapter), data).Err()
}

func (r *RedisHistoryStore) Summaries(ctx context.Context, sessionID string) ([]api.ChapterSummary, error) {
	fields, err := r.client.HGetAll(ctx, r.keySummaries(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var summaries []api.ChapterSummary
	for _, raw := range fields {
		var s api.ChapterSummary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Chapter < summaries[j].Chapter
	})

	return summaries, nil
}
