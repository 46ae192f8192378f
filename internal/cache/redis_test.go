package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to REDIS_URL or skips.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	r, err := New(url)
	require.NoError(t, err)
	require.NoError(t, r.Ping(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisCache(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	const src = 987654

	require.NoError(t, r.Set(ctx, SourceKey(src, "auth"), []byte("x"), time.Minute))
	v, ok, err := r.Get(ctx, SourceKey(src, "auth"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", string(v))

	require.NoError(t, r.ClearSource(ctx, src))
	_, ok, err = r.Get(ctx, SourceKey(src, "auth"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLock(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	key := SyncLockKey(987654)

	unlock, err := r.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	_, err = r.TryLock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	assert.True(t, r.IsLocked(ctx, key))

	unlock()
	assert.False(t, r.IsLocked(ctx, key))
}

func TestRedisQueue(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	queue := SyncQueue + ":test"

	job := NewSyncJob(42)
	require.NoError(t, Enqueue(ctx, r, queue, job))
	got, err := Dequeue(ctx, r, queue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, int64(42), got.SourceID)

	got, err = Dequeue(ctx, r, queue, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}
