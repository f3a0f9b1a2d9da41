package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/asinscrape/internal/config"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(handler *ScrapeHandler, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/scrape", handler.StartScrape)
		v1.POST("/scrape/pause", handler.PauseScrape)
		v1.POST("/scrape/resume", handler.ResumeScrape)
		v1.POST("/scrape/stop", handler.StopScrape)
		v1.GET("/scrape/current", handler.GetCurrentJob)
		v1.GET("/jobs/:id", handler.GetJob)
		v1.GET("/health/scraper", handler.GetScraperHealth)
	}

	return router
}

// NewServer wraps the router in an http.Server with the configured timeouts.
func NewServer(cfg config.ServerConfig, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
