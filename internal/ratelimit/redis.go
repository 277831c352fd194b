package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// allowScript increments KEYS[1] unless it already reached ARGV[1]. The first
// increment starts the window by setting the expiry to ARGV[2] milliseconds,
// so the key disappears, and the window resets, once it has elapsed.
var allowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RedisStore shares windows between instances through Redis.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. Keys are stored as "<prefix><key>".
func NewRedisStore(rdb redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, length time.Duration) (Decision, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.RedisAllow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
		attribute.Int64("ratelimit.window_ms", length.Milliseconds()),
	)
	defer span.End()

	if limit <= 0 {
		return Decision{}, nil
	}

	res, err := allowScript.Run(ctx, s.rdb, []string{s.prefix + key}, limit, length.Milliseconds()).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("redis rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis rate limit %s: unexpected script reply %v", key, res)
	}

	d := Decision{Allowed: res[0] == 1, Count: int(res[1])}
	if res[2] > 0 {
		d.ResetAt = time.Now().Add(time.Duration(res[2]) * time.Millisecond)
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", d.Allowed),
		attribute.Int("ratelimit.current_count", d.Count),
	)
	return d, nil
}
