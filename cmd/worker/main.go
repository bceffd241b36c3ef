package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voiceflow/internal/ai"
	"voiceflow/internal/blob"
	"voiceflow/internal/config"
	"voiceflow/internal/logging"
	"voiceflow/internal/queue"
	"voiceflow/internal/store"
	"voiceflow/internal/telemetry"
	workerproc "voiceflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flush, err := logging.Setup(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zap.S().Fatalw("connect postgres", "err", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		zap.S().Fatalw("migrations", "err", err)
	}

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		zap.S().Fatalw("init blob store", "err", err)
	}

	provider, err := ai.New(cfg)
	if err != nil {
		zap.S().Fatalw("init provider", "err", err)
	}
	if provider == nil {
		zap.S().Warnw("no AI provider credential configured, jobs will complete with placeholder output")
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		}
	}

	q := queue.New(cfg)
	pipeline := workerproc.NewPipeline(st, blobs, provider)
	processor := workerproc.NewProcessor(cfg, q, pipeline, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			zap.S().Warnw("metrics server stopped", "err", err)
		}
	}()

	providerName := "none"
	if provider != nil {
		providerName = provider.Name()
	}
	zap.S().Infow("worker started",
		"worker_id", workerID,
		"concurrency", cfg.WorkerConcurrency,
		"provider", providerName,
		"max_attempts", cfg.JobMaxAttempts,
	)
	if err := processor.Run(ctx); err != nil && err != context.Canceled {
		zap.S().Errorw("worker stopped", "err", err)
	}
}
