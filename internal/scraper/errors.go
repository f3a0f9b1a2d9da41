package scraper

import (
	"errors"
	"fmt"
	"strings"
)

// ErrJobNotFound is returned when a job id does not exist in the store, or
// when Resume is called with no resumable job available.
var ErrJobNotFound = errors.New("job not found")

// ErrNoActiveJob is returned by operations that require a current job.
var ErrNoActiveJob = errors.New("no active job")

// ValidationError indicates bad input rejected before any state was created.
type ValidationError struct {
	Message  string
	Rejected []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Rejected) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Rejected, ", "))
}

// ConflictError indicates a second Start while a job is already active.
type ConflictError struct {
	ActiveJobID string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("a job is already active: %s", e.ActiveJobID)
}
