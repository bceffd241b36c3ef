package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client, capacity, refill, time.Minute)
}

func TestTokenBucketCapacity(t *testing.T) {
	b := newTestBucket(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := b.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within capacity", i+1)
	}

	allowed, remaining, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed, "bucket drained")
	assert.Less(t, remaining, 1.0)
}

func TestTokenBucketPerKeyIsolation(t *testing.T) {
	b := newTestBucket(t, 1, 0)
	ctx := context.Background()

	allowed, _, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, err = b.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, allowed, "other clients keep their own bucket")
}
