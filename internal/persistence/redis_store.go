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

// RedisStateStore is a StateStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>sess:<id>            => JSON-encoded api.Session
//	<prefix>idx:all              => SET of all session IDs
//	<prefix>idx:stage:<stage>    => SET of session IDs for a given stage
//	<prefix>outline:<id>         => JSON-encoded api.Outline
//	<prefix>drafts:<id>          => HASH of chapter number => JSON-encoded api.ChapterDraft
//	<prefix>lease:<id>           => lease owner, with TTL
//
// The stage indexes are best-effort; they are always updated on
// SaveSession/UpdateSession, and ListSessions re-filters by the decoded
// payload so stale entries never leak into results.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore creates a RedisStateStore.
// prefix is optional but recommended (e.g. "tome:").
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "tome:"
	}
	return &RedisStateStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStateStore) keySession(id string) string {
	return r.prefix + "sess:" + id
}

func (r *RedisStateStore) keyAll() string {
	return r.prefix + "idx:all"
}

func (r *RedisStateStore) keyStage(stage api.Stage) string {
	return r.prefix + "idx:stage:" + string(stage)
}

func (r *RedisStateStore) keyOutline(id string) string {
	return r.prefix + "outline:" + id
}

func (r *RedisStateStore) keyDrafts(id string) string {
	return r.prefix + "drafts:" + id
}

func (r *RedisStateStore) keyLease(id string) string {
	return r.prefix + "lease:" + id
}

func (r *RedisStateStore) SaveSession(ctx context.Context, sess *api.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.keySession(sess.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrSessionExists
	}

	// Update indexes (best-effort; we don't treat index failures as fatal)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), sess.ID)
	pipe.SAdd(ctx, r.keyStage(sess.Stage), sess.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (r *RedisStateStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ok, err := r.client.SetXX(ctx, r.keySession(sess.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrSessionNotFound
	}

	// Index updates: we just re-add; some stale index entries may remain if
	// the stage changed, but ListSessions filters by payload.
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), sess.ID)
	pipe.SAdd(ctx, r.keyStage(sess.Stage), sess.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (r *RedisStateStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	data, err := r.client.Get(ctx, r.keySession(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrSessionNotFound
		}
		return nil, err
	}

	var sess api.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *RedisStateStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error) {
	var ids []string
	var err error

	if filter.Stage != "" {
		ids, err = r.client.SMembers(ctx, r.keyStage(filter.Stage)).Result()
	} else {
		ids, err = r.client.SMembers(ctx, r.keyAll()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keySession(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var sessions []*api.Session
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var sess api.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, err
		}
		if filter.Stage != "" && sess.Stage != filter.Stage {
			continue
		}
		if filter.ActiveOnly && sess.Stage.Terminal() {
			continue
		}
		sessions = append(sessions, &sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, nil
}

func (r *RedisStateStore) PutOutline(ctx context.Context, o *api.Outline) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyOutline(o.SessionID), data, 0).Err()
}

func (r *RedisStateStore) GetOutline(ctx context.Context, sessionID string) (*api.Outline, error) {
	data, err := r.client.Get(ctx, r.keyOutline(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrRecordNotFound
		}
		return nil, err
	}

	var o api.Outline
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *RedisStateStore) PutDraft(ctx context.Context, d *api.ChapterDraft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.keyDrafts(d.SessionID), strconv.Itoa(d.Chapter), data).Err()
}

func (r *RedisStateStore) GetDraft(ctx context.Context, sessionID string, chapter int) (*api.ChapterDraft, error) {
	data, err := r.client.HGet(ctx, r.keyDrafts(sessionID), strconv.Itoa(chapter)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrRecordNotFound
		}
		return nil, err
	}

	var d api.ChapterDraft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *RedisStateStore) ListDrafts(ctx context.Context, sessionID string) ([]*api.ChapterDraft, error) {
	fields, err := r.client.HGetAll(ctx, r.keyDrafts(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var drafts []*api.ChapterDraft
	for _, raw := range fields {
		var d api.ChapterDraft
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		drafts = append(drafts, &d)
	}

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].Chapter < drafts[j].Chapter
	})

	return drafts, nil
}

var (
	// Lua script for acquiring a lease with re-entrant behavior for the same owner.
	// Returns 1 if acquired/refreshed, 0 otherwise.
	redisLeaseAcquireLua = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`

	// Lua script for renewing a lease. Returns 1 if renewed, 0 otherwise.
	redisLeaseRenewLua = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`

	// Lua script for releasing a lease. Returns 1 if released, 0 otherwise.
	redisLeaseReleaseLua = `
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`
)

func (r *RedisStateStore) TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	res, err := r.client.Eval(ctx, redisLeaseAcquireLua, []string{r.keyLease(sessionID)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case int:
		return v == 1, nil
	case string:
		return v == "1", nil
	default:
		return false, nil
	}
}

func (r *RedisStateStore) RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	res, err := r.client.Eval(ctx, redisLeaseRenewLua, []string{r.keyLease(sessionID)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	ok := false
	switch v := res.(type) {
	case int64:
		ok = v == 1
	case int:
		ok = v == 1
	case string:
		ok = v == "1"
	}
	if !ok {
		return api.ErrSessionBusy
	}
	return nil
}

func (r *RedisStateStore) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	// Idempotent: if the lease doesn't exist, succeed.
	res, err := r.client.Eval(ctx, redisLeaseReleaseLua, []string{r.keyLease(sessionID)}, owner).Result()
	if err != nil {
		return err
	}
	if v, isInt := res.(int64); isInt && v == 0 {
		// Either missing or owned by someone else; distinguish by checking
		// the current value.
		cur, gerr := r.client.Get(ctx, r.keyLease(sessionID)).Result()
		if errors.Is(gerr, redis.Nil) {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		if cur != owner && cur != "" {
			return api.ErrSessionBusy
		}
	}
	return nil
}
