package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/varlab/internal/domain/ratelimit"
)

const quotaKeyPrefix = "varlab:quota:"

// slidingWindow trims entries older than the window, then admits the request
// when the remaining count is below the limit. Scores are milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)

if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('EXPIRE', key, ttl)
	return {1, current + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_ms = now
if #oldest > 0 then
	oldest_ms = tonumber(oldest[2])
end
return {0, current, oldest_ms}
`)

// QuotaLimiter is a Redis sliding-window implementation of ratelimit.Limiter
type QuotaLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewQuotaLimiter creates a limiter on an existing client
func NewQuotaLimiter(client *redis.Client) *QuotaLimiter {
	return &QuotaLimiter{client: client, now: time.Now}
}

// Allow records one request for key and reports whether it fits the quota
func (l *QuotaLimiter) Allow(ctx context.Context, key string, quota ratelimit.Quota) (*ratelimit.Result, error) {
	if quota.Limit < 1 || quota.Window <= 0 {
		return nil, fmt.Errorf("invalid quota: limit %d window %s", quota.Limit, quota.Window)
	}

	now := l.now()
	nowMs := now.UnixMilli()
	windowStartMs := now.Add(-quota.Window).UnixMilli()
	ttlSeconds := int(quota.Window.Seconds()) + 1
	member := fmt.Sprintf("%d:%d", now.UnixNano(), nowMs)

	raw, err := slidingWindow.Run(ctx, l.client, []string{quotaKeyPrefix + key},
		windowStartMs, nowMs, quota.Limit, ttlSeconds, member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("quota check failed: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("unexpected quota script result %v", raw)
	}

	result := &ratelimit.Result{
		Allowed: raw[0] == 1,
		Limit:   quota.Limit,
	}
	count := int(raw[1])

	if result.Allowed {
		result.Remaining = quota.Limit - count
		result.ResetTime = now.Add(quota.Window)
		return result, nil
	}

	result.ResetTime = time.UnixMilli(raw[2]).Add(quota.Window)
	result.RetryAfter = result.ResetTime.Sub(now)
	if result.RetryAfter < 0 {
		result.RetryAfter = 0
	}
	return result, nil
}

// Reset clears the recorded requests of key
func (l *QuotaLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, quotaKeyPrefix+key).Err()
}
