package api

import (
	"github.com/jonesrussell/asinscrape/internal/domain"
)

// StartScrapeRequest is the body for POST /api/v1/scrape.
type StartScrapeRequest struct {
	ASINs []string `binding:"required" json:"asins"`
}

// ResumeScrapeRequest is the body for POST /api/v1/scrape/resume.
// JobID is optional; empty means "most recently interrupted".
type ResumeScrapeRequest struct {
	JobID string `json:"job_id"`
}

// JobResponse is the job snapshot returned by the control surface.
type JobResponse struct {
	Job           *domain.Job      `json:"job"`
	Counts        domain.JobCounts `json:"counts"`
	RejectedASINs []string         `json:"rejected_asins,omitempty"`
}

// newJobResponse builds a response with recomputed counts.
func newJobResponse(job *domain.Job, rejected []string) JobResponse {
	return JobResponse{
		Job:           job,
		Counts:        job.Counts(),
		RejectedASINs: rejected,
	}
}
