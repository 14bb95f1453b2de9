package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares the sliding window across replicas via a sorted set
// per identifier, scored by request time.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func redisKey(identifier string) string {
	return "ratelimit:" + identifier
}

func (l *RedisLimiter) Check(ctx context.Context, identifier string, policy Policy) (Result, error) {
	key := redisKey(identifier)
	now := l.now()
	cutoff := now.Add(-policy.Window)

	if err := l.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10)).Err(); err != nil {
		return Result{}, err
	}

	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return Result{}, err
	}

	if int(count) >= policy.MaxRequests {
		oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return Result{}, err
		}
		resetAt := now.Add(policy.Window)
		if len(oldest) > 0 {
			resetAt = time.Unix(0, int64(oldest[0].Score)).Add(policy.Window)
		}
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, ResetAt: resetAt, RetryAfter: retryAfter}, nil
	}

	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
		p.Expire(ctx, key, policy.Window+time.Minute)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Allowed:   true,
		Remaining: policy.MaxRequests - int(count) - 1,
		ResetAt:   now.Add(policy.Window),
	}, nil
}

func (l *RedisLimiter) Clear(ctx context.Context, identifier string) error {
	return l.client.Del(ctx, redisKey(identifier)).Err()
}
