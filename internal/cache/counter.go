package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const imageDownloadsKey = "image:counters:downloads"

// mergeBackScript adds every field of KEYS[2] into KEYS[1] and drops KEYS[2].
var mergeBackScript = redis.NewScript(`
local vals = redis.call("HGETALL", KEYS[2])
for i = 1, #vals, 2 do
	redis.call("HINCRBY", KEYS[1], vals[i], vals[i + 1])
end
redis.call("DEL", KEYS[2])
return #vals / 2`)

// DownloadCounter buffers download increments in a Redis hash until they are
// flushed into Postgres.
type DownloadCounter struct {
	rdb redis.Cmdable
}

func NewDownloadCounter(rdb redis.Cmdable) *DownloadCounter {
	return &DownloadCounter{rdb: rdb}
}

func (c *DownloadCounter) Add(ctx context.Context, imageID string) error {
	if err := c.rdb.HIncrBy(ctx, imageDownloadsKey, imageID, 1).Err(); err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	return nil
}

// Drain atomically takes all pending counts. RENAME moves the hash aside so
// increments arriving meanwhile land in a fresh hash.
func (c *DownloadCounter) Drain(ctx context.Context) (map[string]int64, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", imageDownloadsKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, imageDownloadsKey, tmpKey).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("rename download counters: %w", err)
	}

	raw, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		if merr := mergeBackScript.Run(context.WithoutCancel(ctx), c.rdb, []string{imageDownloadsKey, tmpKey}).Err(); merr != nil {
			return nil, fmt.Errorf("read download counters: %w (counts left in %s: %v)", err, tmpKey, merr)
		}
		return nil, fmt.Errorf("read download counters: %w", err)
	}
	c.rdb.Del(context.WithoutCancel(ctx), tmpKey)
	counts := make(map[string]int64, len(raw))
	for id, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		counts[id] = n
	}
	return counts, nil
}

// Restore puts counts back after a failed flush.
func (c *DownloadCounter) Restore(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for id, n := range counts {
		pipe.HIncrBy(ctx, imageDownloadsKey, id, n)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("restore download counters: %w", err)
	}
	return nil
}
