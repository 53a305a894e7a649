package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces bucket state next to the shared JWKS cache.
const DefaultKeyPrefix = "spendwise:rl"

// Bucket is a refill rate and a burst capacity.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perMilli() float64 {
	return float64(b.RequestsPerMinute) / float64(time.Minute.Milliseconds())
}

// ttl keeps state around for two empty-to-full refills, clamped to [30s, 1h].
func (b Bucket) ttl() time.Duration {
	if !b.Enabled() {
		return 2 * time.Minute
	}
	fill := time.Duration(math.Ceil(float64(b.BurstSize)/b.perMilli())) * time.Millisecond
	ttl := 2*fill + 5*time.Second
	return min(max(ttl, 30*time.Second), time.Hour)
}

// Decision is the outcome of one Allow call. Remaining is the whole number
// of tokens left after this request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter takes one token for subject within scope. Subjects are hashed
// before they reach Redis, so raw client addresses are never stored.
type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// TokenBucketLimiter keeps one hash per (scope, subject) in Redis and
// updates it atomically with a Lua script.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type Option func(*TokenBucketLimiter)

func WithKeyPrefix(prefix string) Option {
	return func(l *TokenBucketLimiter) {
		if p := strings.TrimSuffix(strings.TrimSpace(prefix), ":"); p != "" {
			l.prefix = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *TokenBucketLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

func NewTokenBucketLimiter(rdb *redis.Client, opts ...Option) *TokenBucketLimiter {
	l := &TokenBucketLimiter{rdb: rdb, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// KEYS[1] bucket hash; ARGV: refill per ms, capacity, now ms, ttl ms.
// Returns {allowed, remaining, retry_after_ms}.
var takeTokenScript = redis.NewScript(`
local per_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if ts > now then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * per_ms)

local allowed = 0
local retry_ms = 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
elseif per_ms > 0 then
  retry_ms = math.ceil((1.0 - tokens) / per_ms)
else
  retry_ms = 60000
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(tokens), retry_ms}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := l.key(scope, subject)
	args := []interface{}{bucket.perMilli(), bucket.BurstSize, l.now().UnixMilli(), bucket.ttl().Milliseconds()}

	res, err := takeTokenScript.Run(ctx, l.rdb, []string{key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", scope, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit %s: unexpected script reply of %d values", scope, len(res))
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}, nil
	}
	retry := time.Duration(res[2]) * time.Millisecond
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

func (l *TokenBucketLimiter) key(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return l.prefix + ":" + scope + ":" + hex.EncodeToString(sum[:])
}
