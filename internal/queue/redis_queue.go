package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voiceflow/internal/config"
)

// ErrDuplicate is returned when a job with the same recording id is
// already pending or active. Callers treat it as benign ("already
// queued").
var ErrDuplicate = errors.New("job already queued")

// RedisQueue coordinates ready, in-flight, and scheduled jobs in Redis.
// The recording id is the job identity and its deduplication key, so at
// most one logical execution is pending or active per recording. Queue
// state is transient/operational; Postgres holds the durable record.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	pendingKey    string
	jobMetaPrefix string
	visibilityTTL time.Duration
}

// New builds a queue client from config.
func New(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewWithClient(client, cfg.VisibilityTimeout)
}

// NewWithClient wraps an existing Redis client; used by tests.
func NewWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 2 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "vf:queue:ready",
		inflightKey:   "vf:queue:inflight",
		scheduledKey:  "vf:queue:scheduled",
		pendingKey:    "vf:queue:pending",
		jobMetaPrefix: "vf:queue:meta:",
		visibilityTTL: visibility,
	}
}

func (q *RedisQueue) metaKey(recordingID string) string {
	return q.jobMetaPrefix + recordingID
}

// Enqueue admits a job keyed by recording id. While the key is still
// pending or active a second enqueue returns ErrDuplicate; the pending
// membership is cleared only by Ack, so a job cannot run twice
// concurrently for one recording.
func (q *RedisQueue) Enqueue(ctx context.Context, recordingID string) error {
	res, err := enqueueScript.Run(ctx, q.client,
		[]string{q.pendingKey, q.readyKey, q.metaKey(recordingID)},
		recordingID,
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// DequeueWithLease pops a ready job and places it into inflight with a
// visibility deadline. Returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	recordingID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return recordingID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, recordingID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: recordingID,
	}).Err()
}

// Ack finishes a job: it leaves inflight tracking and releases the
// dedup key so a later manual retry can re-admit the recording.
func (q *RedisQueue) Ack(ctx context.Context, recordingID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, recordingID)
	pipe.SRem(ctx, q.pendingKey, recordingID)
	pipe.Del(ctx, q.metaKey(recordingID))
	_, err := pipe.Exec(ctx)
	return err
}

// ScheduleRetry parks a failed job for a later automatic attempt. The
// dedup key stays held, so an overlapping manual retry still reads as a
// duplicate instead of producing a second execution.
func (q *RedisQueue) ScheduleRetry(ctx context.Context, recordingID string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, recordingID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: recordingID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into the ready queue. It
// returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them. A
// worker that crashed mid-job shows up here after its visibility
// deadline passes.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// IncrAttempts bumps and returns the attempt counter for a job. The
// counter lives in queue meta, not the task row: it is operational
// retry state, reset whenever the recording is re-admitted.
func (q *RedisQueue) IncrAttempts(ctx context.Context, recordingID string) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.metaKey(recordingID), "attempts", 1).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var enqueueScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 0 then
  return 0
end
redis.call('DEL', KEYS[3])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
