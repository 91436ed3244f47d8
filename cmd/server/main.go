package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/api"
	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/broker"
	"github.com/giftflow/wishlist-pipeline/internal/changefeed"
	"github.com/giftflow/wishlist-pipeline/internal/config"
	"github.com/giftflow/wishlist-pipeline/internal/db"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/metrics"
	"github.com/giftflow/wishlist-pipeline/internal/orchestrator"
	"github.com/giftflow/wishlist-pipeline/internal/pipeline"
	"github.com/giftflow/wishlist-pipeline/internal/pushhub"
	"github.com/giftflow/wishlist-pipeline/internal/queue"
	"github.com/giftflow/wishlist-pipeline/internal/ratelimiter"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
	"github.com/giftflow/wishlist-pipeline/internal/stream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := repository.NewPgStore(pool, cfg.FeedPartitions)

	publisher, err := broker.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaClient)
	if err != nil {
		logger.Fatal("failed to connect to event broker", zap.Error(err))
	}
	defer publisher.Close() //nolint:errcheck

	hub := pushhub.NewHub(logger)
	bcast := broadcast.New(cfg.BroadcastBuffer, cfg.BroadcastIdleTTL, logger,
		broadcast.WithMirror(func(subjectID string, event domain.BroadcastEvent) error {
			msg, err := json.Marshal(event)
			if err != nil {
				return err
			}
			return hub.SendToGroup(subjectID, msg)
		}),
		broadcast.WithDropHook(m.OnBroadcastDrop),
	)

	gen := pipeline.NewHTTPGenerator(cfg.GeneratorBaseURL, cfg.GeneratorTimeout)
	limiter := ratelimiter.New(cfg.GeneratorRate)
	pipe := pipeline.New(store, store, store, gen, limiter, bcast,
		cfg.StageTimeout, logger, m.PipelineHooks())

	execQueue := queue.New(cfg.QueueCapacity)
	orch := orchestrator.New(store, publisher, execQueue, logger, m.OrchestratorHooks())
	streamSvc := stream.NewService(store, store, bcast, logger)

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	execPool := orchestrator.NewPool(orch, execQueue, store, pipe,
		cfg.PipelineWorkers, logger, m.PoolHooks())
	execPool.Start(workerCtx)

	bridge := changefeed.New(store, publisher, bcast, orch,
		cfg.FeedPartitions, cfg.FeedPollInterval, cfg.FeedBatchSize, cfg.FeedLeaseTTL,
		logger, m.BridgeHooks())
	bridge.Start(workerCtx)

	go bcast.Run(workerCtx)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				m.ObserveQueueDepths(execQueue)
			}
		}
	}()

	// ---- HTTP server ----
	router := api.NewRouter(orch, store, streamSvc, hub, cfg.OrchestratorSecret, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout, // zero keeps SSE connections open
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests (this also ends SSE streams).
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal background workers to stop picking up new work.
	cancelWorkers()

	// 3. Wait for in-flight executions and feed batches to finish.
	execPool.Wait()
	bridge.Wait()

	logger.Info("server stopped cleanly")
}
