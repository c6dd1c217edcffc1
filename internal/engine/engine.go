// Package engine runs persistence tasks with a bounded number in flight. A
// driver submits tasks; the engine admits at most MaxTasks at a time, waits
// for every admitted task to finish, stops its progress monitor, and releases
// the downstream sink exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/elastic-logger/internal/clock/system"
	"github.com/JakeFAU/elastic-logger/internal/progress"
)

const (
	// DefaultMaxTasks bounds concurrent tasks when Config.MaxTasks is unset.
	DefaultMaxTasks = 10
	// DefaultMonitorInterval is the progress report period.
	DefaultMonitorInterval = 500 * time.Millisecond

	defaultCloseTimeout = 30 * time.Second
)

// ErrAdmissionRejected marks a submission discarded because the engine had
// left the Running state or the caller gave up waiting for a slot.
var ErrAdmissionRejected = errors.New("task admission rejected")

// State is the engine lifecycle stage.
type State int32

// Lifecycle stages. Transitions only move forward.
const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Task is one unit of admitted work. The context it receives is never
// cancelled by the engine.
type Task func(ctx context.Context) error

// Driver submits tasks to e and returns when it has nothing more to submit.
type Driver func(ctx context.Context, e *Engine) error

// Closer is the downstream resource released after the last task finishes.
type Closer interface {
	Close(ctx context.Context) error
}

// Counters is a snapshot of task bookkeeping.
type Counters struct {
	Started   int64 `json:"started"`
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Config controls admission and monitoring.
//   - MaxTasks: concurrent task limit (default 10).
//   - Monitor: start the progress monitor at construction.
//   - MonitorInterval: progress report period (default 500ms).
//   - CloseTimeout: bound on releasing the sink during shutdown (default 30s).
type Config struct {
	MaxTasks        int
	Monitor         bool
	MonitorInterval time.Duration
	CloseTimeout    time.Duration
}

// Clock supplies the time used for report uptimes.
type Clock interface {
	Now() time.Time
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgressSink sets where monitor reports go.
func WithProgressSink(sink progress.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.progress = sink
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Engine admits tasks up to a fixed limit and coordinates shutdown.
type Engine struct {
	cfg      Config
	sink     Closer
	logger   *zap.Logger
	progress progress.Sink
	slots    *semaphore.Weighted
	clock    Clock

	startedAt  time.Time
	stopCtx    context.Context
	stopCancel context.CancelFunc

	mu       sync.Mutex
	state    State
	counters Counters
	// idle is closed whenever pending is zero.
	idle chan struct{}

	monitorDone chan struct{}
	rejectLog   rate.Sometimes
	ran         atomic.Bool
}

// New builds an Engine that closes sink during shutdown. sink may be nil.
// When cfg.Monitor is set the progress monitor starts immediately.
func New(cfg Config, sink Closer, opts ...Option) *Engine {
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	idle := make(chan struct{})
	close(idle)
	stopCtx, stopCancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		sink:       sink,
		logger:     zap.NewNop(),
		slots:      semaphore.NewWeighted(int64(cfg.MaxTasks)),
		clock:      system.New(),
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		state:      Running,
		idle:       idle,
		rejectLog:  rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.clock.Now()
	if e.progress == nil {
		e.progress = progress.NewHub(progress.Config{Logger: e.logger})
	}
	if cfg.Monitor {
		e.monitorDone = make(chan struct{})
		go e.monitor()
	}
	return e
}

// MaxTasks reports the admission limit.
func (e *Engine) MaxTasks() int {
	return e.cfg.MaxTasks
}

// State reports the current lifecycle stage.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Counters returns a consistent snapshot of the task counters.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Run calls driver and then shuts the engine down: it waits for every
// admitted task, stops the monitor, and closes the sink. Shutdown runs on
// every exit path, including a driver error or panic. A driver that returns
// context.Canceled is treated as a normal end of input. Run may be called
// once.
func (e *Engine) Run(ctx context.Context, driver Driver) (err error) {
	if !e.ran.CompareAndSwap(false, true) {
		return errors.New("engine already ran")
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("driver panicked", zap.Any("panic", r))
			err = fmt.Errorf("driver panic: %v", r)
		}
		err = errors.Join(err, e.shutdown(context.WithoutCancel(ctx)))
	}()

	if driverErr := driver(ctx, e); driverErr != nil && !errors.Is(driverErr, context.Canceled) {
		return fmt.Errorf("driver: %w", driverErr)
	}
	return nil
}

func (e *Engine) shutdown(ctx context.Context) error {
	drainErr := e.Drain(ctx)
	stopErr := e.RequestStop(ctx)

	closeCtx, cancel := context.WithTimeout(ctx, e.cfg.CloseTimeout)
	defer cancel()
	var closeErr error
	if e.sink != nil {
		if err := e.sink.Close(closeCtx); err != nil {
			e.logger.Error("sink close failed", zap.Error(err))
			closeErr = fmt.Errorf("close sink: %w", err)
		}
	}
	if err := e.progress.Close(closeCtx); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close progress sink: %w", err))
	}
	return errors.Join(drainErr, stopErr, closeErr)
}

// Submit admits task, waiting for a free slot while the engine is Running.
// It returns false without running task when the engine leaves Running
// before a slot frees up or ctx ends first; the discard is logged and
// counted, never returned as an error.
func (e *Engine) Submit(ctx context.Context, task Task) bool {
	if task == nil {
		e.reject(fmt.Errorf("%w: nil task", ErrAdmissionRejected))
		return false
	}
	if e.State() != Running {
		e.reject(fmt.Errorf("%w: engine %s", ErrAdmissionRejected, e.State()))
		return false
	}

	acquireCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.stopCtx, cancel)
	err := e.slots.Acquire(acquireCtx, 1)
	stop()
	cancel()
	if err != nil {
		if state := e.State(); state != Running {
			e.reject(fmt.Errorf("%w: engine %s", ErrAdmissionRejected, state))
		} else {
			e.reject(fmt.Errorf("%w: %w", ErrAdmissionRejected, err))
		}
		return false
	}

	e.mu.Lock()
	if e.state != Running {
		state := e.state
		e.mu.Unlock()
		e.slots.Release(1)
		e.reject(fmt.Errorf("%w: engine %s", ErrAdmissionRejected, state))
		return false
	}
	e.counters.Started++
	e.counters.Pending++
	if e.counters.Pending == 1 {
		e.idle = make(chan struct{})
	}
	e.mu.Unlock()

	go e.runTask(context.WithoutCancel(ctx), task)
	return true
}

func (e *Engine) runTask(ctx context.Context, task Task) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", zap.Any("panic", r))
			err = fmt.Errorf("task panic: %v", r)
		}
		e.finish(err)
	}()
	err = task(ctx)
}

func (e *Engine) finish(err error) {
	e.mu.Lock()
	e.counters.Pending--
	e.counters.Completed++
	if err != nil {
		e.counters.Failed++
	}
	if e.counters.Pending == 0 {
		close(e.idle)
	}
	e.mu.Unlock()
	// Release after pending drops so a newly admitted task never overlaps.
	e.slots.Release(1)

	if err != nil {
		e.logger.Debug("task failed", zap.Error(err))
	}
}

func (e *Engine) reject(err error) {
	e.mu.Lock()
	e.counters.Rejected++
	rejected := e.counters.Rejected
	e.mu.Unlock()
	e.rejectLog.Do(func() {
		e.logger.Warn("not starting task", zap.Error(err), zap.Int64("rejected", rejected))
	})
}

// Drain blocks until no admitted task is pending or ctx ends.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		e.mu.Lock()
		idle := e.idle
		e.mu.Unlock()
		select {
		case <-idle:
			if e.Counters().Pending == 0 {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("drain engine: %w", ctx.Err())
		}
	}
}

// RequestStop moves the engine to Stopping, waits for the monitor to publish
// its final report, then moves to Stopped. Without a monitor it returns as
// soon as Stopping is set. Calling it again is harmless.
func (e *Engine) RequestStop(ctx context.Context) error {
	e.mu.Lock()
	first := e.state == Running
	if first {
		e.state = Stopping
	}
	e.mu.Unlock()
	if first {
		e.logger.Info("stopping")
		e.stopCancel()
	}

	if e.monitorDone != nil {
		select {
		case <-e.monitorDone:
		case <-ctx.Done():
			return fmt.Errorf("wait for monitor: %w", ctx.Err())
		}
	}

	e.mu.Lock()
	e.state = Stopped
	e.mu.Unlock()
	return nil
}
