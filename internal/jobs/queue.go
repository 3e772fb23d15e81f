package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/observability/metrics"
)

// Handler executes one task. A returned error is retried while the
// retry budget allows.
type Handler func(ctx context.Context, task Task) error

// QueueOptions configures a Queue.
type QueueOptions struct {
	Workers            int
	MaxPending         int
	Retry              RetryConfig
	ProcessingInterval time.Duration // how often due retries are checked
	Metrics            *metrics.QueueMetrics
	Log                logger.Logger
}

// Queue is a bounded retrying task queue served by a fixed worker pool.
// A task id is held at most once, whether pending, retrying or running.
type Queue struct {
	handler Handler
	opts    QueueOptions
	log     logger.Logger

	mu      sync.Mutex
	pending []*Job
	running map[string]*Job
	stopped bool
	stats   Stats

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// clock is replaceable in tests
	now func() time.Time
}

// NewQueue returns a queue that is not yet started.
func NewQueue(handler Handler, opts QueueOptions) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxPending < 1 {
		opts.MaxPending = 100
	}
	if opts.ProcessingInterval <= 0 {
		opts.ProcessingInterval = time.Second
	}
	log := opts.Log
	if log == nil {
		log = logger.Global().Module("jobs")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		handler: handler,
		opts:    opts,
		log:     log,
		running: make(map[string]*Job),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	for i := range q.opts.Workers {
		q.wg.Go(func() { q.worker(i) })
	}
	q.log.Info("job queue started",
		logger.Int("workers", q.opts.Workers),
		logger.Int("max_pending", q.opts.MaxPending),
		logger.Int("max_retries", q.opts.Retry.MaxRetries))
}

// Enqueue adds task to the queue. Enqueueing a task whose id is already
// held is a no-op.
func (q *Queue) Enqueue(task Task) error {
	if task.JobID == "" || task.VideoPath == "" {
		return ErrInvalidTask
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.countDropped()
		return ErrQueueStopped
	}
	if q.holdsLocked(task.JobID) {
		q.mu.Unlock()
		q.log.Debug("task already queued", logger.String("job_id", task.JobID))
		return nil
	}
	if len(q.pending) >= q.opts.MaxPending {
		q.mu.Unlock()
		q.countDropped()
		return errors.New(fmt.Errorf("%w: %d tasks pending", ErrQueueFull, q.opts.MaxPending)).
			Component("jobs").
			Category(errors.CategoryJobQueue).
			Context("job_id", task.JobID).
			Build()
	}

	now := q.now()
	q.pending = append(q.pending, &Job{
		Task:        task,
		MaxAttempts: q.opts.Retry.MaxRetries + 1,
		CreatedAt:   now,
		NextRetryAt: now,
		Status:      JobStatusPending,
	})
	q.stats.Enqueued++
	depth := len(q.pending)
	q.mu.Unlock()

	if m := q.opts.Metrics; m != nil {
		m.Enqueued.Inc()
		m.Pending.Set(float64(depth))
	}
	q.signal()
	return nil
}

func (q *Queue) holdsLocked(id string) bool {
	if _, ok := q.running[id]; ok {
		return true
	}
	return slices.ContainsFunc(q.pending, func(j *Job) bool { return j.Task.JobID == id })
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) countDropped() {
	q.mu.Lock()
	q.stats.Dropped++
	q.mu.Unlock()
	if m := q.opts.Metrics; m != nil {
		m.Dropped.Inc()
	}
}

func (q *Queue) worker(id int) {
	ticker := time.NewTicker(q.opts.ProcessingInterval)
	defer ticker.Stop()

	for {
		for {
			job := q.next()
			if job == nil {
				break
			}
			q.execute(job)
		}
		select {
		case <-q.ctx.Done():
			q.log.Debug("worker exiting", logger.Int("worker", id))
			return
		case <-q.wake:
			// another idle worker may also have work waiting
			q.signalIfPending()
		case <-ticker.C:
		}
	}
}

func (q *Queue) signalIfPending() {
	q.mu.Lock()
	n := len(q.pending)
	q.mu.Unlock()
	if n > 0 {
		q.signal()
	}
}

// next pops the oldest due job, or nil when none is due.
func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil
	}
	now := q.now()
	for i, j := range q.pending {
		if j.NextRetryAt.After(now) {
			continue
		}
		q.pending = slices.Delete(q.pending, i, i+1)
		j.Status = JobStatusRunning
		j.Attempts++
		q.running[j.Task.JobID] = j
		if m := q.opts.Metrics; m != nil {
			m.Pending.Set(float64(len(q.pending)))
			m.Running.Set(float64(len(q.running)))
		}
		return j
	}
	return nil
}

func (q *Queue) execute(job *Job) {
	start := q.now()
	err := q.run(job)
	elapsed := q.now().Sub(start)

	q.mu.Lock()
	delete(q.running, job.Task.JobID)
	q.stats.observe(elapsed)

	var result string
	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		q.stats.Completed++
		result = "completed"
	case job.Attempts < job.MaxAttempts && !q.stopped:
		job.Status = JobStatusRetrying
		job.LastError = err
		job.NextRetryAt = q.now().Add(q.backoff(job.Attempts))
		q.pending = append(q.pending, job)
		q.stats.Retried++
		result = "retried"
	default:
		job.Status = JobStatusFailed
		job.LastError = err
		q.stats.Failed++
		result = "failed"
	}
	pending, running := len(q.pending), len(q.running)
	q.mu.Unlock()

	if m := q.opts.Metrics; m != nil {
		m.Results.WithLabelValues(result).Inc()
		if result == "retried" {
			m.Retries.Inc()
		}
		m.Pending.Set(float64(pending))
		m.Running.Set(float64(running))
	}

	switch result {
	case "retried":
		q.log.Warn("task failed, retrying",
			logger.String("job_id", job.Task.JobID),
			logger.Int("attempt", job.Attempts),
			logger.Time("next_retry_at", job.NextRetryAt),
			logger.Error(err))
	case "failed":
		q.log.Error("task failed",
			logger.String("job_id", job.Task.JobID),
			logger.Int("attempts", job.Attempts),
			logger.Error(err))
	}
}

// run invokes the handler, converting a panic into an error.
func (q *Queue) run(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in job handler: %v", r).
				Component("jobs").
				Category(errors.CategoryJobQueue).
				Context("job_id", job.Task.JobID).
				Context("stack", string(debug.Stack())).
				Build()
		}
	}()
	return q.handler(q.ctx, job.Task)
}

// backoff returns the delay before retry number attempt, with ±10% jitter.
func (q *Queue) backoff(attempt int) time.Duration {
	cfg := q.opts.Retry
	delay := float64(cfg.InitialDelay)
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	for range attempt - 1 {
		delay *= mult
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	jitter := delay * 0.1 * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto randomness
	d := time.Duration(delay + jitter)
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return max(d, 0)
}

// Stop rejects new tasks and waits up to timeout for running tasks to
// finish. Tasks still pending are abandoned; their rows stay queued for
// startup recovery. After the timeout the handler context is cancelled.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	q.stopped = true
	abandoned := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.log.Info("stopping job queue",
		logger.Int("abandoned_pending", abandoned),
		logger.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.waitIdle()
		q.cancel()
		q.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		q.cancel()
		<-done
		return errors.Newf("job queue stop timed out after %v", timeout).
			Component("jobs").
			Category(errors.CategoryJobQueue).
			Build()
	}
}

// waitIdle blocks until no task is running or the queue context ends.
func (q *Queue) waitIdle() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		n := len(q.running)
		q.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() StatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return StatsSnapshot{
		Stats:   q.stats,
		Pending: len(q.pending),
		Running: len(q.running),
		Workers: q.opts.Workers,
		Stopped: q.stopped,
	}
}
