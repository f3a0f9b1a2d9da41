// Package domain provides domain models used across the application.
package domain

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

const (
	// JobStatusIdle means no job has been started yet.
	JobStatusIdle JobStatus = "idle"
	// JobStatusRunning means the job loop is processing batches.
	JobStatusRunning JobStatus = "running"
	// JobStatusPausing means a pause was requested and the in-flight batch is draining.
	JobStatusPausing JobStatus = "pausing"
	// JobStatusPaused means the job is checkpointed and can be resumed.
	JobStatusPaused JobStatus = "paused"
	// JobStatusStopping means a stop was requested and the in-flight batch is draining.
	JobStatusStopping JobStatus = "stopping"
	// JobStatusStopped means the job was stopped; it remains resumable.
	JobStatusStopped JobStatus = "stopped"
	// JobStatusCompleted means every item reached a terminal state. Not resumable.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed means a systemic or persistence error aborted the job. Not resumable.
	JobStatusFailed JobStatus = "failed"
)

// IsActive reports whether a job in this status occupies the single active slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusRunning || s == JobStatusPausing || s == JobStatusStopping
}

// IsResumable reports whether a job in this status can be resumed.
func (s JobStatus) IsResumable() bool {
	return s == JobStatusPaused || s == JobStatusStopped
}

// IsTerminal reports whether this status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusStopped
}

// ItemStatus represents the state of a single ASIN within a job.
type ItemStatus string

const (
	// ItemStatusPending means the item has not been claimed by a batch yet.
	ItemStatusPending ItemStatus = "pending"
	// ItemStatusInProgress means a worker currently owns the item.
	ItemStatusInProgress ItemStatus = "in_progress"
	// ItemStatusSuccess means the item was fetched and its product stored.
	ItemStatusSuccess ItemStatus = "success"
	// ItemStatusFailed means the item exhausted its retries.
	ItemStatusFailed ItemStatus = "failed"
	// ItemStatusSkipped means a fresh cached result made a fetch unnecessary.
	ItemStatusSkipped ItemStatus = "skipped"
)

// IsTerminal reports whether this item status is final for the current run.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSuccess || s == ItemStatusFailed || s == ItemStatusSkipped
}

// Item represents one ASIN's worth of work within a job.
type Item struct {
	ASIN      string     `db:"asin"       json:"asin"`
	Status    ItemStatus `db:"status"     json:"status"`
	Attempts  int        `db:"attempts"   json:"attempts"`
	LastError *string    `db:"last_error" json:"last_error,omitempty"`
	ResultRef *string    `db:"result_ref" json:"result_ref,omitempty"`
}

// Job represents a batch scrape job over a list of ASINs.
type Job struct {
	ID     string    `db:"id"     json:"id"`
	Status JobStatus `db:"status" json:"status"`

	// Items are ordered by insertion; insertion order is processing priority.
	Items []Item `json:"items"`

	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	PausedAt    *time.Time `db:"paused_at"    json:"paused_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// CurrentBatchIndex is the number of fully completed batches; it is the
	// resume position after a pause, stop, or crash.
	CurrentBatchIndex int `db:"current_batch_index" json:"current_batch_index"`

	// ErrorMessage holds the reason a job transitioned to failed.
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
}

// JobCounts holds derived per-status item counts. Counts are always
// recomputed from the item list, never incremented independently.
type JobCounts struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
}

// Counts recomputes the per-status item counts from the item list.
func (j *Job) Counts() JobCounts {
	c := JobCounts{Total: len(j.Items)}
	for i := range j.Items {
		switch j.Items[i].Status {
		case ItemStatusSuccess:
			c.Succeeded++
		case ItemStatusFailed:
			c.Failed++
		case ItemStatusSkipped:
			c.Skipped++
		case ItemStatusPending:
			c.Pending++
		case ItemStatusInProgress:
			c.InProgress++
		}
	}
	return c
}

// ResetInProgress moves any in_progress item back to pending. Called on
// resume: partial fetch side effects from an interrupted run are not assumed
// durable, so interrupted items are retried.
func (j *Job) ResetInProgress() {
	for i := range j.Items {
		if j.Items[i].Status == ItemStatusInProgress {
			j.Items[i].Status = ItemStatusPending
		}
	}
}
