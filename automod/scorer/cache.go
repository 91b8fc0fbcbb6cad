package scorer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatmod/chatmod/automod/cachestore"

	"github.com/spaolacci/murmur3"
)

const scoreCacheName = "tox"

// Cache key for a (truncated) text: 128-bit murmur3, hex encoded. Raw message text never ends up in cache keys.
func scoreCacheKey(text string) string {
	h1, h2 := murmur3.Sum128([]byte(text))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

func getCachedScore(ctx context.Context, cs cachestore.CacheStore, text string) (*Result, error) {
	raw, err := cs.Get(ctx, scoreCacheName, scoreCacheKey(text))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("parsing cached score: %w", err)
	}
	return &res, nil
}

func setCachedScore(ctx context.Context, cs cachestore.CacheStore, text string, res *Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return cs.Set(ctx, scoreCacheName, scoreCacheKey(text), string(b))
}
