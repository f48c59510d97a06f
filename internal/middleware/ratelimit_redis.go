package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/opsdash/dashboard-server/internal/redis"
)

var loginLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

return {1, now + window}
`)

// RedisLoginLimiter is a sliding-window limiter shared across instances.
// When Redis cannot be reached it defers to fallback.
type RedisLoginLimiter struct {
	client   redis.Scripter
	limit    int
	window   time.Duration
	fallback LoginLimiter
}

func NewRedisLoginLimiter(client redis.Scripter, limit int, window time.Duration, fallback LoginLimiter) *RedisLoginLimiter {
	return &RedisLoginLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		fallback: fallback,
	}
}

func (rl *RedisLoginLimiter) Allow(ctx context.Context, key string) (bool, time.Time) {
	now := time.Now().Unix()
	redisKey := redisclient.LoginAttemptsKey(key)

	result, err := loginLimitScript.Run(ctx, rl.client, []string{redisKey}, now, int64(rl.window.Seconds()), rl.limit).Int64Slice()
	if err != nil || len(result) != 2 {
		log.Warn().Err(err).Str("key", key).Msg("redis login limit check failed, using local limiter")
		return rl.fallback.Allow(ctx, key)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}
