package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Redis-backed cache, with a small local TinyLFU cache in front of it. Values are shared between all daemon instances pointed at the same redis.
type RedisCacheStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ CacheStore = (*RedisCacheStore)(nil)

func NewRedisCacheStore(rdb *redis.Client, ttl time.Duration, localSize int) *RedisCacheStore {
	opts := &cache.Options{
		Redis: rdb,
	}
	if localSize > 0 {
		// local entries expire sooner than redis ones, so purges propagate reasonably quickly
		localTTL := ttl
		if localTTL > time.Minute {
			localTTL = time.Minute
		}
		opts.LocalCache = cache.NewTinyLFU(localSize, localTTL)
	}
	return &RedisCacheStore{
		Data: cache.New(opts),
		TTL:  ttl,
	}
}

func redisCacheKey(name, key string) string {
	return "chatmod/cache/" + cacheKey(name, key)
}

func (s *RedisCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	var val string
	err := s.Data.Get(ctx, redisCacheKey(name, key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, name, key string, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(name, key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, name, key string) error {
	err := s.Data.Delete(ctx, redisCacheKey(name, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
