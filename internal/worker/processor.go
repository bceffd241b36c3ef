package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"voiceflow/internal/config"
	"voiceflow/internal/queue"
	"voiceflow/internal/store"
	"voiceflow/internal/telemetry"
)

// Processor drives the worker execution loop: queue maintenance, lease
// dequeue, pipeline execution, and the outer retry policy.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	pipeline *Pipeline
	workerID string
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, pipeline *Pipeline, workerID string) *Processor {
	return &Processor{cfg: cfg, queue: q, pipeline: pipeline, workerID: workerID}
}

// Run starts the maintenance loop and the configured number of consumer
// loops, blocking until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	concurrency := p.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// maintain promotes due scheduled retries, reclaims expired leases, and
// publishes the queue depth gauge.
func (p *Processor) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.WorkerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if promoted, err := p.queue.PromoteScheduled(ctx, time.Now(), int64(p.cfg.ScheduledBatchSize)); err == nil && promoted > 0 {
			zap.S().Debugw("promoted scheduled jobs", "count", promoted)
		}
		if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err == nil && len(reclaimed) > 0 {
			zap.S().Warnw("reclaimed expired leases", "count", len(reclaimed), "ids", reclaimed)
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
	}
}

func (p *Processor) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		recordingID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || recordingID == "" {
			if err != nil {
				zap.S().Errorw("dequeue", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.handle(ctx, recordingID)
	}
}

// handle runs one attempt and applies the outer retry policy: bounded
// automatic attempts with jittered exponential backoff, after which the
// job stays failed until an explicit retry re-admits it.
func (p *Processor) handle(ctx context.Context, recordingID string) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	log := zap.S().With("recording", recordingID, "worker", p.workerID)

	// A provider call can legally outlast the visibility window (its own
	// retry budget alone can run minutes), so keep the lease alive for
	// the whole attempt. Without the heartbeat the maintenance loop
	// would reclaim the job mid-attempt and a second consumer would
	// process the same recording concurrently.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.keepLeaseAlive(hbCtx, recordingID)
	}()

	err := p.pipeline.Process(ctx, recordingID)
	stopHeartbeat()
	<-hbDone
	if err == nil {
		if err := p.queue.Ack(ctx, recordingID); err != nil {
			log.Errorw("ack", "err", err)
		}
		telemetry.JobsCompleted.Inc()
		log.Infow("job completed")
		return
	}

	if errors.Is(err, store.ErrNotFound) {
		// Recording (or its task) vanished under the job, e.g. deleted
		// by the UI while queued. Nothing to retry against.
		_ = p.queue.Ack(ctx, recordingID)
		log.Warnw("dropping job for missing recording", "err", err)
		return
	}

	attempts, attErr := p.queue.IncrAttempts(ctx, recordingID)
	if attErr != nil {
		log.Errorw("count attempt", "err", attErr)
		attempts = p.cfg.JobMaxAttempts
	}

	if attempts >= p.cfg.JobMaxAttempts {
		// Terminal: failed status and error message were already
		// persisted by the pipeline.
		if ackErr := p.queue.Ack(ctx, recordingID); ackErr != nil {
			log.Errorw("ack after exhausted retries", "err", ackErr)
		}
		telemetry.JobsExhausted.Inc()
		log.Errorw("job failed, retry budget exhausted", "attempts", attempts, "err", err)
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	runAt := time.Now().Add(backoff)
	if schedErr := p.queue.ScheduleRetry(ctx, recordingID, runAt); schedErr != nil {
		log.Errorw("schedule retry", "err", schedErr)
		return
	}
	telemetry.JobsRetried.Inc()
	log.Warnw("job failed, retry scheduled", "attempts", attempts, "next_run", runAt.UTC().Format(time.RFC3339), "err", err)
}

// keepLeaseAlive extends the in-flight lease on a fraction of the
// visibility window until the attempt finishes. Extension failures are
// logged and retried on the next tick; the lease simply expires if
// Redis stays unreachable, which is the crash-reclamation path anyway.
func (p *Processor) keepLeaseAlive(ctx context.Context, recordingID string) {
	interval := p.cfg.VisibilityTimeout / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, recordingID, p.cfg.VisibilityTimeout); err != nil && ctx.Err() == nil {
				zap.S().Warnw("extend lease", "recording", recordingID, "err", err)
			}
		}
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
