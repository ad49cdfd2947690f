package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const exploreVersionKey = "explore:version"

// ExploreCache stores rendered explore pages. Pages are keyed by a version
// counter so a single INCR invalidates all of them.
type ExploreCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewExploreCache(rdb redis.Cmdable, ttl time.Duration) *ExploreCache {
	return &ExploreCache{rdb: rdb, ttl: ttl}
}

func (c *ExploreCache) key(ctx context.Context, page string) (string, error) {
	version, err := c.rdb.Get(ctx, exploreVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("read explore version: %w", err)
	}
	return fmt.Sprintf("explore:v%d:%s", version, page), nil
}

// Get decodes a cached page into dest and reports whether it was found.
func (c *ExploreCache) Get(ctx context.Context, page string, dest any) (bool, error) {
	key, err := c.key(ctx, page)
	if err != nil {
		return false, err
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get explore page: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode explore page: %w", err)
	}
	return true, nil
}

func (c *ExploreCache) Set(ctx context.Context, page string, value any) error {
	key, err := c.key(ctx, page)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode explore page: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set explore page: %w", err)
	}
	return nil
}

func (c *ExploreCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, exploreVersionKey).Err(); err != nil {
		return fmt.Errorf("bump explore version: %w", err)
	}
	return nil
}
