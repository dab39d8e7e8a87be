package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements fixed windows in Redis for distributed
// deployments. The INCR and EXPIRE pair is pipelined but deliberately not
// transactional: a crash between them only leaves a key that lives longer
// than one window, which is a conservative failure.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{client: client}, nil
}

func NewRedisLimiterWithClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) CheckRateLimit(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, int64) {
	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	// NX keeps the expiry anchored to the window's first request.
	pipe.ExpireNX(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("rate limit check failed, allowing request",
			"key", key,
			"error", err,
		)
		return true, maxRequests
	}

	count := incr.Val()
	allowed := count <= maxRequests
	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	if !allowed {
		slog.Warn("rate limit exceeded", "key", key, "count", count, "max", maxRequests)
	}
	return allowed, remaining
}

func (l *RedisLimiter) RetryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		if err != nil {
			slog.Warn("rate limit TTL lookup failed, using fallback", "key", key, "error", err)
		}
		return FallbackRetryAfter
	}
	return ttl
}

func (l *RedisLimiter) GetRemaining(ctx context.Context, key string, maxRequests int64) int64 {
	count, err := l.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return maxRequests
	}
	if err != nil {
		slog.Error("rate limit read failed", "key", key, "error", err)
		return maxRequests
	}
	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
