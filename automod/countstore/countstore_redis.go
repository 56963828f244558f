package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCountPrefix    = "count/"
	redisDistinctPrefix = "distinct/"
)

// how long each period bucket outlives its period; zero means no expiry
var redisBucketTTL = map[string]time.Duration{
	PeriodTotal: 0,
	PeriodDay:   48 * time.Hour,
	PeriodHour:  2 * time.Hour,
}

// Counters in redis. Distinct counts use HyperLogLog, so they are approximate.
type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

// NewRedisCountStore wraps an existing client, so several components can share one connection pool.
func NewRedisCountStore(client *redis.Client) *RedisCountStore {
	return &RedisCountStore{Client: client}
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, key, period string) (int, error) {
	c, err := s.Client.Get(ctx, redisCountPrefix+bucketKey(name, key, period, time.Now())).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return c, err
}

func (s *RedisCountStore) Increment(ctx context.Context, name, key string) error {
	now := time.Now()
	_, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range allPeriods {
			k := redisCountPrefix + bucketKey(name, key, p, now)
			pipe.Incr(ctx, k)
			if ttl := redisBucketTTL[p]; ttl > 0 {
				pipe.Expire(ctx, k, ttl)
			}
		}
		return nil
	})
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	c, err := s.Client.PFCount(ctx, redisDistinctPrefix+bucketKey(name, bucket, period, time.Now())).Result()
	if err == redis.Nil {
		return 0, nil
	}
	return int(c), err
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	now := time.Now()
	_, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range allPeriods {
			k := redisDistinctPrefix + bucketKey(name, bucket, p, now)
			pipe.PFAdd(ctx, k, val)
			if ttl := redisBucketTTL[p]; ttl > 0 {
				pipe.Expire(ctx, k, ttl)
			}
		}
		return nil
	})
	return err
}
