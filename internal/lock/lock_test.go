package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clock := time.Unix(0, 0)
	m.now = func() time.Time { return clock }

	release, ok, err := m.TryLock(ctx, "acct-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, "acct-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = m.TryLock(ctx, "acct-2", time.Minute)
	assert.True(t, ok, "keys are independent")

	release()
	release2, ok, _ := m.TryLock(ctx, "acct-1", time.Minute)
	require.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok, _ = m.TryLock(ctx, "acct-1", time.Minute)
	assert.True(t, ok, "expired lease is taken over")

	// A stale release must not drop the new holder's lease
	release2()
	_, ok, _ = m.TryLock(ctx, "acct-1", time.Minute)
	assert.False(t, ok)
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedis(client)
	b := NewRedis(client)

	release, ok, err := a.TryLock(ctx, "acct-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("lock:acct-1"))

	_, ok, err = b.TryLock(ctx, "acct-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("lock:acct-1"))

	_, ok, err = b.TryLock(ctx, "acct-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerExpiryAndStaleRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	l := NewRedis(client)

	stale, ok, err := l.TryLock(ctx, "acct-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "acct-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	stale()
	assert.True(t, mr.Exists("lock:acct-1"), "old token must not release the new lease")
}

func TestRedisLockerUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, ok, err := NewRedis(client).TryLock(context.Background(), "acct-1", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}
