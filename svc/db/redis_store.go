package db

import (
	"context"
	"sharebin/pkg/domain"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Entries live in one hash per id. Liveness is checked against expires_at_ms
// inside the scripts; PEXPIREAT lets Redis reclaim the key on its own as well.
var (
	insertEntryScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 1 then
			return 0
		end
		redis.call("HSET", KEYS[1],
			"kind", ARGV[1], "text", ARGV[2], "data", ARGV[3],
			"filename", ARGV[4], "media_type", ARGV[5],
			"created_at", ARGV[6], "expires_at", ARGV[7], "expires_at_ms", ARGV[8],
			"views", 0)
		if ARGV[8] ~= "" then
			redis.call("PEXPIREAT", KEYS[1], ARGV[8])
		end
		return 1
	`)
	resolveEntryScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 0 then
			return false
		end
		local exp = redis.call("HGET", KEYS[1], "expires_at_ms")
		if exp and exp ~= "" and tonumber(exp) <= tonumber(ARGV[1]) then
			redis.call("DEL", KEYS[1])
			return false
		end
		redis.call("HINCRBY", KEYS[1], "views", 1)
		return redis.call("HMGET", KEYS[1],
			"kind", "text", "data", "filename", "media_type", "created_at", "expires_at", "views")
	`)
	sweepEntryScript = redis.NewScript(`
		local exp = redis.call("HGET", KEYS[1], "expires_at_ms")
		if exp and exp ~= "" and tonumber(exp) <= tonumber(ARGV[1]) then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

const sweepScanCount = 200

type RedisStore struct {
	r   *Redis
	ids IDSource
	now Clock
}

func NewRedisStore(r *Redis, ids IDSource, now Clock) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{r: r, ids: ids, now: now}
}
func (s *RedisStore) key(id string) string {
	return s.r.prefix + "entry:" + id
}
func (s *RedisStore) Insert(ctx context.Context, e *domain.Entry) (string, error) {
	if err := validateEntry(e); err != nil {
		return "", err
	}
	c := e.Content
	expiresAt, expiresAtMs := "", ""
	if e.ExpiresAt != nil {
		expiresAt = strconv.FormatInt(e.ExpiresAt.UnixNano(), 10)
		expiresAtMs = strconv.FormatInt(e.ExpiresAt.UnixMilli(), 10)
	}
	data := c.Data
	if data == nil {
		data = []byte{}
	}
	return insertWithFreshID(ctx, s.ids, func(id string) error {
		opCtx, cancel := context.WithTimeout(ctx, s.r.timeout)
		defer cancel()
		created, err := insertEntryScript.Run(opCtx, s.r.client, []string{s.key(id)},
			string(c.Kind), c.Text, data, c.Filename, c.MediaType,
			strconv.FormatInt(e.CreatedAt.UnixNano(), 10), expiresAt, expiresAtMs,
		).Int()
		if err != nil {
			return errors.Wrap(err, "redis insert")
		}
		if created == 0 {
			return ErrIDTaken
		}
		return nil
	})
}
func (s *RedisStore) Resolve(ctx context.Context, id string) (*domain.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.r.timeout)
	defer cancel()
	vals, err := resolveEntryScript.Run(ctx, s.r.client, []string{s.key(id)}, s.now().UnixMilli()).Slice()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis resolve")
	}
	if len(vals) != 8 {
		return nil, errors.Errorf("redis resolve: unexpected reply length %d", len(vals))
	}
	e := &domain.Entry{
		ID: id,
		Content: domain.Content{
			Kind:      domain.Kind(replyString(vals[0])),
			Filename:  replyString(vals[3]),
			MediaType: replyString(vals[4]),
		},
	}
	if e.Content.Kind == domain.KindText {
		e.Content.Text = replyString(vals[1])
	} else {
		e.Content.Data = []byte(replyString(vals[2]))
	}
	created, err := strconv.ParseInt(replyString(vals[5]), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "redis resolve: created_at")
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	if exp := replyString(vals[6]); exp != "" {
		n, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "redis resolve: expires_at")
		}
		t := time.Unix(0, n).UTC()
		e.ExpiresAt = &t
	}
	if e.Views, err = strconv.ParseInt(replyString(vals[7]), 10, 64); err != nil {
		return nil, errors.Wrap(err, "redis resolve: views")
	}
	return e, nil
}
func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// SweepExpired scans the entry keyspace and deletes hashes whose expiry has
// passed but which Redis has not reclaimed yet.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	nowMs := s.now().UnixMilli()
	removed := 0
	iter := s.r.client.Scan(ctx, 0, s.key("*"), sweepScanCount).Iterator()
	for iter.Next(ctx) {
		opCtx, cancel := context.WithTimeout(ctx, s.r.timeout)
		n, err := sweepEntryScript.Run(opCtx, s.r.client, []string{iter.Val()}, nowMs).Int()
		cancel()
		if err != nil {
			return removed, errors.Wrap(err, "redis sweep")
		}
		removed += n
	}
	return removed, errors.Wrap(iter.Err(), "redis scan")
}

// Count returns the number of entry keys currently held by Redis.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.r.client.Scan(ctx, 0, s.key("*"), sweepScanCount).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, errors.Wrap(iter.Err(), "redis scan")
}
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.r.Ping(ctx)
}

// Close is a no-op; the underlying client is owned by whoever created the Redis.
func (s *RedisStore) Close() error {
	return nil
}
