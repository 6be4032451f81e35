package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket state lives in one hash per key. Redis truncates Lua numbers
// to integers on return, so the token count goes back as a string.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local elapsed = now - ts
  if elapsed < 0 then
    elapsed = 0
  end
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

var (
	ErrLimiterNotConfigured = errors.New("rate_limiter_not_configured")
	ErrEmptyKey             = errors.New("rate_limiter_key_empty")
	ErrInvalidPolicy        = errors.New("rate_limiter_policy_invalid")
	errBadScriptReply       = errors.New("rate_limiter_bad_script_reply")
)

// Policy is a continuous refill rate in tokens per second with a burst cap.
type Policy struct {
	Rate  float64
	Burst int
}

func (p Policy) validate() error {
	if p.Rate <= 0 || p.Burst <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// ttl keeps idle buckets around for twice the time a full refill takes.
func (p Policy) ttl() time.Duration {
	seconds := math.Ceil(float64(p.Burst) / p.Rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket is a redis-backed bucket shared by every replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	policy Policy
}

func NewTokenBucket(client *redis.Client, policy Policy) (*TokenBucket, error) {
	if client == nil {
		return nil, ErrLimiterNotConfigured
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		policy: policy,
	}, nil
}

// Take removes one token from the bucket stored at key.
func (t *TokenBucket) Take(ctx context.Context, key string) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, ErrLimiterNotConfigured
	}
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		t.policy.Rate,
		t.policy.Burst,
		t.policy.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(reply) < 3 {
		return Result{}, errBadScriptReply
	}

	allowed := toInt64(reply[0]) == 1
	tokens := toFloat64(reply[1])
	at := time.UnixMilli(toInt64(reply[2]))

	var retryAfter time.Duration
	if !allowed {
		retryAfter = time.Duration((1 - tokens) / t.policy.Rate * float64(time.Second))
	}
	return Result{
		Allowed:    allowed,
		Limit:      t.policy.Burst,
		Remaining:  int(tokens),
		ResetTime:  at.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	}
	return 0
}

func toFloat64(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	}
	return 0
}
