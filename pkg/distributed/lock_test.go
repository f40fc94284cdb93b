package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("PEERLINK_TEST_REDIS")
	if addr == "" {
		t.Skip("PEERLINK_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLock_SingleHolder(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "peerlink:test:lock:" + t.Name()
	t.Cleanup(func() { client.Del(ctx, key) })

	first := NewLock(client, key, time.Second)
	second := NewLock(client, key, time.Second)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHeld)
	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestLock_RenewsWhileHeld(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "peerlink:test:lock:" + t.Name()
	t.Cleanup(func() { client.Del(ctx, key) })

	l := NewLock(client, key, 200*time.Millisecond)
	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(500 * time.Millisecond)
	assert.EqualValues(t, 1, client.Exists(ctx, key).Val())
	require.NoError(t, l.Unlock(ctx))
}

func TestLock_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	ok, err := NewLock(client, "peerlink:test:lock", time.Second).TryLock(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
