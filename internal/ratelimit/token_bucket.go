package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "snapcrop:ratelimit"

// Decision is the outcome of taking one token for a client.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(ctx context.Context, client string) (Decision, error)
}

type Config struct {
	// RatePerSec is the steady refill rate.
	RatePerSec float64
	// Burst is the bucket capacity.
	Burst     int
	KeyPrefix string
}

// RedisTokenBucket keeps one bucket per client in a Redis hash so every API
// replica shares the same budget. Refill and take happen atomically in Lua.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - ts) * refill_per_ms)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) / refill_per_ms)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(now_ms))
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), wait_ms}
`)

func NewRedisTokenBucket(client redis.UniversalClient, cfg Config) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Burst <= 0 {
		return nil, fmt.Errorf("burst must be positive")
	}
	if cfg.RatePerSec <= 0 || math.IsInf(cfg.RatePerSec, 0) || math.IsNaN(cfg.RatePerSec) {
		return nil, fmt.Errorf("rate must be a positive number")
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	fill := time.Duration(float64(cfg.Burst) / cfg.RatePerSec * float64(time.Second))
	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(cfg.Burst),
		refillPerMS: cfg.RatePerSec / 1000,
		ttl:         max(2*fill, time.Second),
		keyPrefix:   prefix,
		now:         time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, client string) (Decision, error) {
	client = strings.TrimSpace(client)
	if client == "" {
		client = "anonymous"
	}

	raw, err := takeScript.Run(
		ctx,
		l.client,
		[]string{l.keyPrefix + ":" + client},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		l.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("token bucket returned %d values", len(raw))
	}

	var vals [3]int64
	for i, v := range raw {
		if vals[i], err = toInt64(v); err != nil {
			return Decision{}, fmt.Errorf("parse token bucket value %d: %w", i, err)
		}
	}

	return Decision{
		Allowed:    vals[0] == 1,
		Limit:      l.capacity,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
