package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sensemaker/backend/internal/handlers"
)

type RouterConfig struct {
	JobsHandler     *handlers.JobsHandler
	ProgressHandler *handlers.ProgressHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/jobs", cfg.JobsHandler.SubmitJob)
		api.GET("/jobs/queued", cfg.JobsHandler.ListQueued)
		api.GET("/jobs/running", cfg.JobsHandler.ListRunning)
		api.GET("/jobs/all/progress", cfg.ProgressHandler.StreamAll)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.POST("/jobs/:id/cancel", cfg.JobsHandler.CancelJob)
		api.GET("/jobs/:id/progress", cfg.ProgressHandler.StreamJob)
	}

	return router
}
