// Package main 异步任务执行器入口（job-worker）
//
// 消费发布队列并按 cron 发布到期的定时文章。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"articleforge-api/internal/config"
	"articleforge-api/internal/infrastructure/messaging"
	"articleforge-api/internal/wire"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	worker.Consumer.RegisterHandler(messaging.TypePublishArticle, worker.Publishing.HandleMessage)
	if err := worker.Consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	defer worker.Consumer.Stop()

	if cfg.Scheduler.Enabled {
		if err := worker.Scheduler.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start scheduler", err)
		}
		defer worker.Scheduler.Stop()
	}

	log := logger.FromContext(ctx)
	log.Info("job-worker started", "scheduler", cfg.Scheduler.Enabled)

	<-ctx.Done()
	log.Info("job-worker shutting down")
}
