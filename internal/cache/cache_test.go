package cache

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to REDIS_TEST_URL (default redis://localhost:6379/15)
// and skips the test when Redis is not reachable.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	client, err := NewClient(context.Background(), url)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestExploreCacheRoundTripAndInvalidate(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewExploreCache(rdb, time.Minute)

	var got []string
	found, err := c.Get(ctx, "p1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "p1", []string{"a", "b"}))
	found, err = c.Get(ctx, "p1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, c.Invalidate(ctx))
	found, err = c.Get(ctx, "p1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocker(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	l := NewLocker(rdb, time.Minute)

	release, ok, err := l.Acquire(ctx, "generate:user-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "generate:user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := l.Acquire(ctx, "generate:user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestDownloadCounterDrain(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewDownloadCounter(rdb)

	empty, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, c.Add(ctx, "img-1"))
	require.NoError(t, c.Add(ctx, "img-1"))
	require.NoError(t, c.Add(ctx, "img-2"))

	counts, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"img-1": 2, "img-2": 1}, counts)

	require.NoError(t, c.Restore(ctx, counts))
	again, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, counts, again)
}

// failFirst fails the first command named cmd and passes everything else through.
type failFirst struct {
	cmd    string
	failed atomic.Bool
}

func (h *failFirst) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failFirst) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == h.cmd && h.failed.CompareAndSwap(false, true) {
			err := errors.New("connection reset")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failFirst) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestDownloadCounterDrainKeepsCountsOnReadError(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewDownloadCounter(rdb)

	require.NoError(t, c.Add(ctx, "img-1"))
	require.NoError(t, c.Add(ctx, "img-1"))
	rdb.AddHook(&failFirst{cmd: "hgetall"})

	_, err := c.Drain(ctx)
	require.Error(t, err)

	require.NoError(t, c.Add(ctx, "img-1"))
	counts, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"img-1": 3}, counts)

	leftovers, err := rdb.Keys(ctx, imageDownloadsKey+":tmp:*").Result()
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
