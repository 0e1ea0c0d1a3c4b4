package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmakela/tome/pkg/api"
)

// RedisMemoryStore is an api.MemoryStore backed by Redis.
// Each session's conversation is a Redis list at <prefix>mem:<id>,
// so Context returns messages in append order.
type RedisMemoryStore struct {
	client *redis.Client
	prefix string
}

var _ api.MemoryStore = (*RedisMemoryStore)(nil)

// NewRedisMemoryStore creates a RedisMemoryStore.
// prefix is optional but recommended (e.g. "tome:").
func NewRedisMemoryStore(client *redis.Client, prefix string) *RedisMemoryStore {
	if prefix == "" {
		prefix = "tome:"
	}
	return &RedisMemoryStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisMemoryStore) keyMessages(id string) string {
	return r.prefix + "mem:" + id
}

func (r *RedisMemoryStore) Append(ctx context.Context, sessionID string, msg api.Message) error {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.keyMessages(sessionID), data).Err()
}

func (r *RedisMemoryStore) Context(ctx context.Context, sessionID string) ([]api.Message, error) {
	raw, err := r.client.LRange(ctx, r.keyMessages(sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var messages []api.Message
	for _, item := range raw {
		var msg api.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}
