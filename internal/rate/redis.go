package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisLimiter: fixed window (INCR + EXPIRE).
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
	Now    func() time.Time
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix, Max: int64(max), Window: window, Now: time.Now}
}

func (l *RedisLimiter) windowKey(key string, now time.Time) (string, time.Time) {
	winStart := now.UTC().Truncate(l.Window)
	return fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix()), winStart
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.Now().UTC()
	redisKey, winStart := l.windowKey(key, now)

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate: redis: %w", err)
	}
	return decide(incr.Val(), l.Max, winStart.Add(l.Window), now), nil
}

// Peek lee el contador de la ventana actual sin incrementarlo.
func (l *RedisLimiter) Peek(ctx context.Context, key string) (Result, error) {
	now := l.Now().UTC()
	redisKey, winStart := l.windowKey(key, now)
	hits, err := l.Client.Get(ctx, redisKey).Int64()
	if err != nil && !errors.Is(err, rdb.Nil) {
		return Result{}, fmt.Errorf("rate: redis: %w", err)
	}
	return peek(hits, l.Max, winStart.Add(l.Window), now), nil
}

// Reset borra el contador de la ventana actual.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	redisKey, _ := l.windowKey(key, l.Now())
	if err := l.Client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("rate: redis: %w", err)
	}
	return nil
}
