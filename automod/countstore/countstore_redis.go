package countstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCountPrefix    = "chatmod/count/"
	redisDistinctPrefix = "chatmod/distinct/"
)

// Per-period expiry of redis keys. Total counters never expire.
var redisPeriodTTL = map[string]time.Duration{
	PeriodHour: 2 * time.Hour,
	PeriodDay:  48 * time.Hour,
}

type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(rdb *redis.Client) *RedisCountStore {
	return &RedisCountStore{Client: rdb}
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	key := redisCountPrefix + periodBucket(name, val, period, time.Now())
	c, err := s.Client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {
	now := time.Now()
	// all periods in a single round-trip
	multi := s.Client.Pipeline()
	for _, p := range AllPeriods {
		key := redisCountPrefix + periodBucket(name, val, p, now)
		multi.Incr(ctx, key)
		if ttl, ok := redisPeriodTTL[p]; ok {
			multi.Expire(ctx, key, ttl)
		}
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	key := redisDistinctPrefix + periodBucket(name, bucket, period, time.Now())
	c, err := s.Client.PFCount(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	now := time.Now()
	multi := s.Client.Pipeline()
	for _, p := range AllPeriods {
		key := redisDistinctPrefix + periodBucket(name, bucket, p, now)
		multi.PFAdd(ctx, key, val)
		if ttl, ok := redisPeriodTTL[p]; ok {
			multi.Expire(ctx, key, ttl)
		}
	}
	_, err := multi.Exec(ctx)
	return err
}
