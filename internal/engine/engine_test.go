package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/progress"
	"github.com/JakeFAU/elastic-logger/internal/sink/memory"
)

// TestSubmitNeverExceedsMaxTasks verifies pending stays within the admission limit.
func TestSubmitNeverExceedsMaxTasks(t *testing.T) {
	t.Parallel()

	const maxTasks = 3
	e := New(Config{MaxTasks: maxTasks}, nil)

	var running, peak atomic.Int64
	var overLimit atomic.Bool
	task := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if e.Counters().Pending > maxTasks {
			overLimit.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		for i := 0; i < 30; i++ {
			require.True(t, e.Submit(ctx, task))
			require.LessOrEqual(t, e.Counters().Pending, int64(maxTasks))
		}
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int64(maxTasks))
	require.False(t, overLimit.Load())

	c := e.Counters()
	require.Equal(t, int64(30), c.Started)
	require.Equal(t, c.Started, c.Completed)
	require.Zero(t, c.Pending)
	require.Equal(t, Stopped, e.State())
}

// TestSingleSlotSerializesTasks verifies max_tasks=1 runs tasks one after another.
func TestSingleSlotSerializesTasks(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxTasks: 1}, nil)
	start := time.Now()
	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		for i := 0; i < 5; i++ {
			e.Submit(ctx, func(context.Context) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(5), e.Counters().Completed)
}

// TestRunWaitsForAllTasks verifies Run returns only after every admitted task finished.
func TestRunWaitsForAllTasks(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxTasks: 4}, nil)
	var done atomic.Int64
	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		for i := 0; i < 8; i++ {
			e.Submit(ctx, func(context.Context) error {
				time.Sleep(20 * time.Millisecond)
				done.Add(1)
				return nil
			})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), done.Load())
}

// TestSubmitAfterStopIsRejected verifies a stopped engine discards work without counting it as started.
func TestSubmitAfterStopIsRejected(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	require.NoError(t, e.Run(context.Background(), func(context.Context, *Engine) error { return nil }))

	var ran atomic.Bool
	ok := e.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.False(t, ok)
	time.Sleep(10 * time.Millisecond)
	require.False(t, ran.Load())

	c := e.Counters()
	require.Zero(t, c.Started)
	require.Equal(t, int64(1), c.Rejected)
}

// TestWaitingSubmitRejectedOnStop verifies a submission waiting for a slot is discarded once stopping begins.
func TestWaitingSubmitRejectedOnStop(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxTasks: 1}, nil)
	release := make(chan struct{})
	require.True(t, e.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	result := make(chan bool, 1)
	go func() {
		result <- e.Submit(context.Background(), func(context.Context) error { return nil })
	}()

	// Give the second submission time to block on admission.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.RequestStop(context.Background()))

	select {
	case ok := <-result:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiting submission was not released by stop")
	}

	close(release)
	require.NoError(t, e.Drain(context.Background()))
	c := e.Counters()
	require.Equal(t, int64(1), c.Started)
	require.Equal(t, int64(1), c.Completed)
	require.Equal(t, int64(1), c.Rejected)
}

// TestSubmitHonorsCallerContext verifies a caller can abandon a blocked submission.
func TestSubmitHonorsCallerContext(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxTasks: 1}, nil)
	release := make(chan struct{})
	defer close(release)
	require.True(t, e.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.False(t, e.Submit(ctx, func(context.Context) error { return nil }))
	require.Equal(t, Running, e.State())
	require.Equal(t, int64(1), e.Counters().Rejected)
}

// TestTaskContextOutlivesCaller verifies admitted tasks are not cancelled with the submitting context.
func TestTaskContextOutlivesCaller(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var taskErr atomic.Value
	require.True(t, e.Submit(ctx, func(taskCtx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		taskErr.Store(taskCtx.Err() == nil)
		return nil
	}))
	cancel()
	require.NoError(t, e.Drain(context.Background()))
	require.Equal(t, true, taskErr.Load())
}

// TestRequestStopWithoutMonitor verifies stop completes immediately with monitoring disabled.
func TestRequestStopWithoutMonitor(t *testing.T) {
	t.Parallel()

	e := New(Config{Monitor: false}, nil)
	done := make(chan error, 1)
	go func() { done <- e.RequestStop(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("RequestStop blocked without a monitor")
	}
	require.Equal(t, Stopped, e.State())
	require.NoError(t, e.RequestStop(context.Background()))
	require.Equal(t, Stopped, e.State())
}

// TestMonitorPublishesFinalReport verifies stop waits for the monitor's final summary.
func TestMonitorPublishesFinalReport(t *testing.T) {
	t.Parallel()

	reports := &recordingSink{}
	e := New(Config{Monitor: true, MonitorInterval: 5 * time.Millisecond}, nil, WithProgressSink(reports))

	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		for i := 0; i < 3; i++ {
			e.Submit(ctx, func(context.Context) error {
				time.Sleep(15 * time.Millisecond)
				return nil
			})
		}
		return nil
	})
	require.NoError(t, err)

	got := reports.Reports()
	require.GreaterOrEqual(t, len(got), 2)
	final := got[len(got)-1]
	require.True(t, final.Final)
	require.Equal(t, int64(3), final.Started)
	require.Equal(t, int64(3), final.Completed)
	require.Zero(t, final.Pending)
	for _, r := range got[:len(got)-1] {
		require.False(t, r.Final)
	}
	require.Equal(t, 1, reports.Closes())
}

// TestSinkClosedOnceWhenEveryPersistFails verifies shutdown releases the sink exactly once.
func TestSinkClosedOnceWhenEveryPersistFails(t *testing.T) {
	t.Parallel()

	store := memory.New()
	store.PersistErr = errors.New("cluster unavailable")
	e := New(Config{MaxTasks: 2}, store)

	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		for i := 0; i < 5; i++ {
			e.Submit(ctx, func(ctx context.Context) error {
				return store.Persist(ctx, &event.Trip{ID: "t"})
			})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.Closes())

	c := e.Counters()
	require.Equal(t, int64(5), c.Completed)
	require.Equal(t, int64(5), c.Failed)
}

// TestDriverErrorStillShutsDown verifies a failing driver drains tasks and closes the sink.
func TestDriverErrorStillShutsDown(t *testing.T) {
	t.Parallel()

	store := memory.New()
	e := New(Config{}, store)
	var finished atomic.Bool
	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		e.Submit(ctx, func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return nil
		})
		return errors.New("source exhausted")
	})
	require.EqualError(t, err, "driver: source exhausted")
	require.True(t, finished.Load())
	require.Equal(t, 1, store.Closes())
	require.Equal(t, Stopped, e.State())
}

// TestDriverPanicStillShutsDown verifies a panicking driver is reported and cleanup still runs.
func TestDriverPanicStillShutsDown(t *testing.T) {
	t.Parallel()

	store := memory.New()
	e := New(Config{}, store)
	err := e.Run(context.Background(), func(context.Context, *Engine) error {
		panic("bad record")
	})
	require.EqualError(t, err, "driver panic: bad record")
	require.Equal(t, 1, store.Closes())
}

// TestDriverCanceledIsNormalEnd verifies interrupting the driver is not an error.
func TestDriverCanceledIsNormalEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.New()
	e := New(Config{}, store)
	err := e.Run(ctx, func(ctx context.Context, _ *Engine) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.Closes())
}

// TestSinkCloseErrorReturned verifies a close failure surfaces from Run.
func TestSinkCloseErrorReturned(t *testing.T) {
	t.Parallel()

	store := memory.New()
	store.CloseErr = errors.New("flush failed")
	e := New(Config{}, store)
	err := e.Run(context.Background(), func(context.Context, *Engine) error { return nil })
	require.ErrorContains(t, err, "close sink: flush failed")
}

// TestTaskPanicCountsAsFailure verifies completion bookkeeping runs when a task panics.
func TestTaskPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	err := e.Run(context.Background(), func(ctx context.Context, e *Engine) error {
		e.Submit(ctx, func(context.Context) error { panic("boom") })
		e.Submit(ctx, func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	c := e.Counters()
	assert.Equal(t, int64(2), c.Completed)
	assert.Equal(t, int64(1), c.Failed)
}

// TestRunOnlyOnce verifies a second Run is refused without closing the sink again.
func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	store := memory.New()
	e := New(Config{}, store)
	noop := func(context.Context, *Engine) error { return nil }
	require.NoError(t, e.Run(context.Background(), noop))
	require.EqualError(t, e.Run(context.Background(), noop), "engine already ran")
	require.Equal(t, 1, store.Closes())
}

// TestDefaults verifies unset config falls back to the documented defaults.
func TestDefaults(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxTasks: -1}, nil)
	require.Equal(t, DefaultMaxTasks, e.MaxTasks())
	require.Equal(t, DefaultMonitorInterval, e.cfg.MonitorInterval)
	require.Equal(t, "running", e.State().String())
	require.NoError(t, e.RequestStop(context.Background()))
	require.Equal(t, "stopped", e.State().String())
}

// TestReportElapsedUsesClock verifies report uptimes come from the configured clock.
func TestReportElapsedUsesClock(t *testing.T) {
	t.Parallel()

	clock := &steppingClock{now: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	reports := &recordingSink{}
	e := New(Config{Monitor: true, MonitorInterval: time.Hour}, nil, WithProgressSink(reports), WithClock(clock))
	require.NoError(t, e.RequestStop(context.Background()))

	got := reports.Reports()
	require.Len(t, got, 2)
	require.Equal(t, time.Second, got[0].Elapsed)
	require.Equal(t, 2*time.Second, got[1].Elapsed)
	require.True(t, got[1].Final)
}

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type recordingSink struct {
	mu      sync.Mutex
	reports []progress.Report
	closes  int
}

func (s *recordingSink) Report(_ context.Context, r progress.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) Reports() []progress.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Report(nil), s.reports...)
}

func (s *recordingSink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
