// Package api implements the HTTP control surface for the scraper service.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

// ScrapeHandler handles scrape-job HTTP requests.
type ScrapeHandler struct {
	controller *scraper.Controller
	metrics    *metrics.Metrics
	logger     logger.Interface
}

// NewScrapeHandler creates a new scrape handler.
func NewScrapeHandler(controller *scraper.Controller, m *metrics.Metrics, log logger.Interface) *ScrapeHandler {
	return &ScrapeHandler{
		controller: controller,
		metrics:    m,
		logger:     log,
	}
}

// StartScrape handles POST /api/v1/scrape
func (h *ScrapeHandler) StartScrape(c *gin.Context) {
	var req StartScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	job, rejected, err := h.controller.Start(req.ASINs)
	if err != nil {
		h.renderControlError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, newJobResponse(job, rejected))
}

// PauseScrape handles POST /api/v1/scrape/pause
func (h *ScrapeHandler) PauseScrape(c *gin.Context) {
	job, err := h.controller.Pause()
	if err != nil {
		h.renderControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job, nil))
}

// ResumeScrape handles POST /api/v1/scrape/resume
func (h *ScrapeHandler) ResumeScrape(c *gin.Context) {
	var req ResumeScrapeRequest
	// Body is optional; an empty body resumes the most recent paused job.
	_ = c.ShouldBindJSON(&req)

	job, err := h.controller.Resume(req.JobID)
	if err != nil {
		h.renderControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job, nil))
}

// StopScrape handles POST /api/v1/scrape/stop
func (h *ScrapeHandler) StopScrape(c *gin.Context) {
	job, err := h.controller.Stop()
	if err != nil {
		h.renderControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job, nil))
}

// GetCurrentJob handles GET /api/v1/scrape/current
func (h *ScrapeHandler) GetCurrentJob(c *gin.Context) {
	job := h.controller.GetCurrentJob()
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No current job",
		})
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job, nil))
}

// GetJob handles GET /api/v1/jobs/:id
func (h *ScrapeHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	if id == "" || id == "undefined" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid job ID",
		})
		return
	}

	job, err := h.controller.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, scraper.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("failed to load job", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve job",
		})
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job, nil))
}

// GetScraperHealth handles GET /api/v1/health/scraper
func (h *ScrapeHandler) GetScraperHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"health":  h.controller.Health(),
		"metrics": h.metrics.Snapshot(),
	})
}

// renderControlError maps the control-surface error taxonomy to HTTP codes.
func (h *ScrapeHandler) renderControlError(c *gin.Context, err error) {
	var conflict *scraper.ConflictError
	var validation *scraper.ValidationError

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "A job is already active",
			"active_job_id": conflict.ActiveJobID,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          validation.Message,
			"rejected_asins": validation.Rejected,
		})
	case errors.Is(err, scraper.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, scraper.ErrNoActiveJob):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No active job",
		})
	default:
		h.logger.Error("control operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
	}
}
