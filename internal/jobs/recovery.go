package jobs

import (
	"context"

	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
)

// StatusLister lists jobs by status.
type StatusLister interface {
	ListByStatus(ctx context.Context, statuses ...datastore.Status) ([]datastore.Video, error)
}

// Enqueuer accepts tasks.
type Enqueuer interface {
	Enqueue(task Task) error
}

// TaskFor returns the task that processes v.
func TaskFor(v *datastore.Video) Task {
	return Task{
		JobID:       v.ID,
		VideoPath:   v.OriginalPath,
		VoicePath:   v.VoicePath,
		IntervalSec: v.IntervalSec,
	}
}

// Recover re-enqueues jobs left queued or processing by a previous run,
// oldest first. It returns how many were enqueued; enqueue failures are
// logged and the remaining jobs are still tried.
func Recover(ctx context.Context, store StatusLister, q Enqueuer, log logger.Logger) (int, error) {
	videos, err := store.ListByStatus(ctx, datastore.StatusQueued, datastore.StatusProcessing)
	if err != nil {
		return 0, errors.New(err).
			Component("jobs").
			Category(errors.CategoryJobQueue).
			Context("operation", "recover").
			Build()
	}

	n := 0
	for i := range videos {
		v := &videos[i]
		if err := q.Enqueue(TaskFor(v)); err != nil {
			log.Warn("could not requeue job",
				logger.String("job_id", v.ID),
				logger.String("status", string(v.Status)),
				logger.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		log.Info("requeued unfinished jobs", logger.Int("count", n))
	}
	return n, nil
}
