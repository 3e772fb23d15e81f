// Package jobs runs video processing jobs: a bounded retrying queue feeds
// workers that drive each video through the staged pipeline.
package jobs

import (
	"time"

	"github.com/tphakala/entityindex/internal/errors"
)

// Common errors that can be returned by queue operations
var (
	ErrQueueStopped = errors.NewStd("job queue has been stopped")
	ErrQueueFull    = errors.NewStd("job queue is full")
	ErrInvalidTask  = errors.NewStd("task has no job id or video path")
)

// Task is one video to process.
type Task struct {
	JobID       string
	VideoPath   string
	VoicePath   string // optional separate audio track for the transcript
	IntervalSec int
}

// RetryConfig holds the retry behaviour of queued tasks
type RetryConfig struct {
	MaxRetries   int           // attempts after the first; 0 disables retries
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap for the backoff delay
	Multiplier   float64       // backoff multiplier for each subsequent retry
}

// DefaultRetryConfig returns the backoff used when retries are enabled.
func DefaultRetryConfig(maxRetries int, initialDelay time.Duration) RetryConfig {
	if initialDelay <= 0 {
		initialDelay = 30 * time.Second
	}
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: initialDelay,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}
}

// JobStatus represents the current status of a task in the queue
type JobStatus int

const (
	// JobStatusPending indicates the task is waiting for a worker
	JobStatusPending JobStatus = iota
	// JobStatusRunning indicates a worker is executing the task
	JobStatusRunning
	// JobStatusCompleted indicates the task finished without error
	JobStatusCompleted
	// JobStatusFailed indicates the task failed and will not be retried
	JobStatusFailed
	// JobStatusRetrying indicates the task failed and waits for a retry
	JobStatusRetrying
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusRetrying:
		return "Retrying"
	default:
		return "Unknown"
	}
}

// Job is a task held by the queue
type Job struct {
	Task        Task
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
}
