package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sensemaker/backend/internal/db"
	"github.com/sensemaker/backend/internal/handlers"
	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/realtime"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/server"
	"github.com/sensemaker/backend/internal/services"
	"github.com/sensemaker/backend/internal/utils"
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

	// Realtime channel (degrades to polling-only when redis is down)
	var channel realtime.Channel
	redisChannel, err := realtime.NewRedisChannel(log)
	if err != nil {
		log.Warn("Redis unavailable; progress streams fall back to polling", "error", err)
		channel = realtime.NewNoopChannel()
	} else {
		channel = redisChannel
	}
	defer channel.Close()

	// Services
	log.Info("Setting up Services from main...")
	jobService := services.NewJobService(log, jobRepo, reportRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	jobsHandler := handlers.NewJobsHandler(jobService)
	progressHandler := handlers.NewProgressHandler(log, jobService, channel)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		JobsHandler:     jobsHandler,
		ProgressHandler: progressHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		fmt.Printf("Server listening on :%s\n", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("Server shutdown did not finish cleanly", "error", err)
	}
}
