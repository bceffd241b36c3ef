package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, 2*time.Minute), mr
}

func TestEnqueueDeduplicates(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	assert.ErrorIs(t, q.Enqueue(ctx, "rec-1"), ErrDuplicate)
	require.NoError(t, q.Enqueue(ctx, "rec-2"))

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestDequeueWithLease(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, id, "empty queue yields no job")

	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	require.NoError(t, q.Enqueue(ctx, "rec-2"))

	first, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", first, "FIFO order")

	second, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rec-2", second)

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// In-flight jobs still hold the dedup key.
	assert.ErrorIs(t, q.Enqueue(ctx, "rec-1"), ErrDuplicate)
}

func TestAckReleasesDedupKey(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "rec-1", id)

	require.NoError(t, q.Ack(ctx, "rec-1"))

	// After Ack the same recording can be admitted again.
	require.NoError(t, q.Enqueue(ctx, "rec-1"))
}

func TestScheduleRetryAndPromote(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	runAt := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, q.ScheduleRetry(ctx, "rec-1", runAt))

	// Still pending, so a manual retry reads as duplicate.
	assert.ErrorIs(t, q.Enqueue(ctx, "rec-1"), ErrDuplicate)

	// Not due yet.
	promoted, err := q.PromoteScheduled(ctx, runAt.Add(-time.Millisecond), 10)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	promoted, err = q.PromoteScheduled(ctx, runAt.Add(time.Millisecond), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
}

func TestRequeueExpired(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	// Lease not expired yet.
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = q.RequeueExpired(ctx, time.Now().Add(3*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, ids)

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
}

func TestIncrAttemptsResetOnReadmit(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "rec-1"))

	n, err := q.IncrAttempts(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.IncrAttempts(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Ack then re-admit: the counter starts over.
	require.NoError(t, q.Ack(ctx, "rec-1"))
	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	n, err = q.IncrAttempts(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExtendLease(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "rec-1"))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	require.NoError(t, q.ExtendLease(ctx, "rec-1", 10*time.Minute))

	// Past the original deadline but within the extension, nothing expires.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(3*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
