package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"tubemux/config"
)

func SetupRouter(jobs JobService, prober Prober, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	h := NewHandler(jobs, prober, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/info", h.handleInfo)

		v1.POST("/jobs", h.handleCreateJob)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.GET("/jobs/:jobId/events", h.handleJobEvents)

		// Artifacts keep their <media>/<channel>/ layout, hence the wildcard.
		v1.GET("/files/*path", h.handleGetFile)
	}
	return r
}
