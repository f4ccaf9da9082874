package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// slidingWindowScript admits a request when fewer than limit entries fall in
// the trailing window. Returns {allowed, resetAtMs, remaining}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, resetAt, 0}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 10000)

return {1, now + window, limit - count - 1}
`)

type LimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a redis-backed sliding window shared by every replica.
type RateLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{client: client, prefix: "ratelimit", now: time.Now}
}

// CheckLimit records one hit for key. Redis failures deny the request.
func (rl *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) LimitResult {
	now := rl.now()
	nowMs := now.UnixMilli()
	fullKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		nowMs,
		window.Milliseconds(),
		limit,
		member,
	).Int64Slice()

	if err != nil || len(result) != 3 {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request")
		return LimitResult{ResetAt: now.Add(window)}
	}

	return LimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[2]),
		ResetAt:   time.UnixMilli(result[1]),
	}
}

func PairingStartKey(connectionID string) string {
	return "pairing-start:" + connectionID
}

func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}
