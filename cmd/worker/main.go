package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sensemaker/backend/internal/db"
	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/pipeline"
	"github.com/sensemaker/backend/internal/realtime"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/utils"
	"github.com/sensemaker/backend/internal/worker"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	jobRepo := repos.NewJobRepo(thePG, log)
	reportRepo := repos.NewReportRepo(thePG, log)
	commentRepo := repos.NewCommentRepo(thePG, log)

	// Realtime channel (progress still persists when redis is down)
	var channel realtime.Channel
	redisChannel, err := realtime.NewRedisChannel(log)
	if err != nil {
		log.Warn("Redis unavailable; progress is store-only", "error", err)
		channel = realtime.NewNoopChannel()
	} else {
		channel = redisChannel
	}
	defer channel.Close()

	// Pipeline
	registry := worker.NewRegistry()
	processor := pipeline.NewProcessor(pipeline.Config{
		Log:      log,
		Reports:  reportRepo,
		Comments: commentRepo,
	})
	if err := registry.Register(processor); err != nil {
		log.Error("Failed to register processor", "error", err)
		os.Exit(1)
	}

	pool := worker.New(log, jobRepo, channel, registry, worker.Config{
		Concurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 2, log),
		PollInterval: time.Duration(utils.GetEnvAsInt("WORKER_POLL_INTERVAL_MS", 1000, log)) * time.Millisecond,
		MaxAttempts:  utils.GetEnvAsInt("WORKER_MAX_ATTEMPTS", 5, log),
		StaleRunning: time.Duration(utils.GetEnvAsInt("WORKER_STALE_RUNNING_SECONDS", 120, log)) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Worker pool starting...")
	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Worker pool failed", "error", err)
		os.Exit(1)
	}
	log.Info("Worker pool stopped")
}
