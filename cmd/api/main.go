package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voiceflow/internal/api"
	"voiceflow/internal/blob"
	"voiceflow/internal/config"
	"voiceflow/internal/logging"
	"voiceflow/internal/queue"
	"voiceflow/internal/ratelimit"
	"voiceflow/internal/store"
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

	q := queue.New(cfg)
	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, q, blobs, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	zap.S().Infow("api listening", "port", cfg.HTTPPort, "blob_backend", cfg.BlobBackend)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.S().Fatalw("listen", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
