package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/observability/metrics"
)

func newTestQueue(t *testing.T, handler Handler, opts QueueOptions) *Queue {
	t.Helper()
	if opts.ProcessingInterval == 0 {
		opts.ProcessingInterval = 5 * time.Millisecond
	}
	opts.Log = quietLogger()
	return NewQueue(handler, opts)
}

func task(id string) Task {
	return Task{JobID: id, VideoPath: "/videos/" + id + ".mp4", IntervalSec: 5}
}

func TestQueueProcessesTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{})

	q := newTestQueue(t, func(_ context.Context, task Task) error {
		mu.Lock()
		defer mu.Unlock()
		seen[task.JobID]++
		if len(seen) == 3 {
			close(done)
		}
		return nil
	}, QueueOptions{Workers: 2, MaxPending: 10})
	q.Start()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(task(id)))
	}
	waitForChannel(t, done, DefaultTestTimeout, "timed out waiting for tasks")
	require.NoError(t, q.Stop(DefaultTestTimeout))

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
	stats := q.Stats()
	assert.EqualValues(t, 3, stats.Enqueued)
	assert.EqualValues(t, 3, stats.Completed)
	assert.EqualValues(t, 3, stats.Executions)
	assert.True(t, stats.Stopped)
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t, func(context.Context, Task) error { return nil }, QueueOptions{MaxPending: 1})

	assert.ErrorIs(t, q.Enqueue(Task{VideoPath: "x.mp4"}), ErrInvalidTask)
	assert.ErrorIs(t, q.Enqueue(Task{JobID: "a"}), ErrInvalidTask)

	require.NoError(t, q.Enqueue(task("a")))
	require.NoError(t, q.Enqueue(task("a")), "duplicate id is ignored")
	assert.Equal(t, 1, q.Stats().Pending)

	err := q.Enqueue(task("b"))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, errors.IsCategory(err, errors.CategoryJobQueue))
	assert.EqualValues(t, 1, q.Stats().Dropped)

	require.NoError(t, q.Stop(time.Second))
	assert.ErrorIs(t, q.Enqueue(task("c")), ErrQueueStopped)
	assert.ErrorIs(t, q.Stop(time.Second), ErrQueueStopped)
}

func TestEnqueueIgnoresRunningTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	q := newTestQueue(t, func(context.Context, Task) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}, QueueOptions{Workers: 2})
	q.Start()

	require.NoError(t, q.Enqueue(task("a")))
	waitForChannel(t, started, DefaultTestTimeout, "task never started")
	require.NoError(t, q.Enqueue(task("a")))

	stats := q.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Running)

	close(release)
	require.NoError(t, q.Stop(DefaultTestTimeout))
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	var attempts atomic.Int32
	done := make(chan struct{})

	q := newTestQueue(t, func(context.Context, Task) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("transient failure")
		}
		close(done)
		return nil
	}, QueueOptions{
		Retry: RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2},
	})
	q.Start()

	require.NoError(t, q.Enqueue(task("a")))
	waitForChannel(t, done, DefaultTestTimeout, "task never succeeded")
	require.NoError(t, q.Stop(DefaultTestTimeout))

	stats := q.Stats()
	assert.EqualValues(t, 3, attempts.Load())
	assert.EqualValues(t, 2, stats.Retried)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestQueueGivesUpAfterRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	var attempts atomic.Int32
	q := newTestQueue(t, func(context.Context, Task) error {
		attempts.Add(1)
		return fmt.Errorf("permanent failure")
	}, QueueOptions{
		Retry: RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, Multiplier: 2},
	})
	q.Start()

	require.NoError(t, q.Enqueue(task("a")))
	require.Eventually(t, func() bool { return q.Stats().Failed == 1 }, DefaultTestTimeout, pollInterval)
	require.NoError(t, q.Stop(DefaultTestTimeout))

	assert.EqualValues(t, 2, attempts.Load())
	assert.EqualValues(t, 1, q.Stats().Retried)
}

func TestQueueRecoversHandlerPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	done := make(chan struct{})
	q := newTestQueue(t, func(_ context.Context, task Task) error {
		if task.JobID == "boom" {
			panic("detector exploded")
		}
		close(done)
		return nil
	}, QueueOptions{Workers: 1})
	q.Start()

	require.NoError(t, q.Enqueue(task("boom")))
	require.NoError(t, q.Enqueue(task("ok")))
	waitForChannel(t, done, DefaultTestTimeout, "worker did not survive the panic")
	require.NoError(t, q.Stop(DefaultTestTimeout))

	stats := q.Stats()
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 1, stats.Completed)
}

func TestStopTimeoutCancelsHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	q := newTestQueue(t, func(ctx context.Context, _ Task) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, QueueOptions{Retry: RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond}})
	q.Start()

	require.NoError(t, q.Enqueue(task("slow")))
	waitForChannel(t, started, DefaultTestTimeout, "task never started")

	err := q.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryJobQueue))
	waitForChannel(t, cancelled, DefaultTestTimeout, "handler context was not cancelled")

	stats := q.Stats()
	assert.EqualValues(t, 0, stats.Retried, "a stopped queue does not retry")
	assert.Equal(t, 0, stats.Pending)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil, QueueOptions{
		Log:   quietLogger(),
		Retry: RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2},
	})

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 90 * time.Millisecond, 110 * time.Millisecond},
		{2, 180 * time.Millisecond, 220 * time.Millisecond},
		{3, 360 * time.Millisecond, 440 * time.Millisecond},
		{10, 900 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			d := q.backoff(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.min, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, d, tt.max, "attempt %d", tt.attempt)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetryConfig(0, 0)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.InitialDelay)
	assert.InDelta(t, 2.0, cfg.Multiplier, 1e-9)
}

func TestQueueMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, err := metrics.NewQueueMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	done := make(chan struct{})
	q := newTestQueue(t, func(context.Context, Task) error {
		close(done)
		return nil
	}, QueueOptions{MaxPending: 1, Metrics: m})

	require.NoError(t, q.Enqueue(task("a")))
	require.ErrorIs(t, q.Enqueue(task("b")), ErrQueueFull)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Pending), 1e-9)

	q.Start()
	waitForChannel(t, done, DefaultTestTimeout, "task never ran")
	require.NoError(t, q.Stop(DefaultTestTimeout))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Enqueued), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dropped), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Results.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Pending), 1e-9)
}

func TestStatsSnapshotJSON(t *testing.T) {
	t.Parallel()

	s := StatsSnapshot{Pending: 2, Workers: 3}
	s.Enqueued = 5
	s.observe(100 * time.Millisecond)
	s.observe(300 * time.Millisecond)

	assert.Equal(t, 200*time.Millisecond, s.AverageDuration())

	out, err := s.ToJSONCompact()
	require.NoError(t, err)

	var doc struct {
		Queue       map[string]any `json:"queue"`
		Performance map[string]any `json:"performance"`
		Timestamp   string         `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.InDelta(t, 5, doc.Queue["enqueued"], 1e-9)
	assert.InDelta(t, 2, doc.Queue["pending"], 1e-9)
	assert.InDelta(t, 100, doc.Performance["minMs"], 1e-9)
	assert.InDelta(t, 300, doc.Performance["maxMs"], 1e-9)
	assert.NotEmpty(t, doc.Timestamp)

	pretty, err := s.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, pretty, "\n  ")
}
