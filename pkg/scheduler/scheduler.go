// Package scheduler runs fixed-rate periodic tasks on a shared worker pool.
//
// Each task has its own ticker goroutine and context. Ticks are handed to the
// pool; a tick that arrives while the previous run of the same task is still
// in flight is skipped, so runs of one task never overlap. Cancelling a task
// cancels the context passed to its in-flight run; Done waits for that run
// to return.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/pkg/worker"
)

// Func is the work of a periodic task. ctx is cancelled when the task is
// cancelled or the scheduler stops.
type Func func(ctx context.Context)

// Scheduler owns the shared pool and the set of live tasks.
type Scheduler struct {
	pool   *worker.Pool[*Task]
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   map[*Task]struct{}
	started bool
	stopped bool
}

// New creates a scheduler with the given number of pool workers. registry
// may be nil.
func New(workers int, registry metric.MetricsRegistrar, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger: logger.With("component", "scheduler"),
		tasks:  make(map[*Task]struct{}),
	}

	opts := []worker.Option[*Task]{worker.WithLogger[*Task](logger)}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*Task](registry))
	}
	s.pool = worker.NewPool("scheduler", workers, workers*4, func(_ context.Context, t *Task) error {
		t.execute()
		return nil
	}, opts...)
	return s
}

// Start launches the pool workers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Scheduler", "Start", "check state")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.pool.Start(s.ctx); err != nil {
		s.cancel()
		return errors.Wrap(err, "Scheduler", "Start", "start pool")
	}
	s.started = true
	return nil
}

// ScheduleAtFixedRate runs fn after initialDelay and then every interval
// until the returned task is cancelled or the scheduler stops.
func (s *Scheduler) ScheduleAtFixedRate(name string, initialDelay, interval time.Duration, fn Func) (*Task, error) {
	if interval <= 0 || initialDelay < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: task %q: interval %s, initial delay %s", errors.ErrInvalidConfig, name, interval, initialDelay),
			"Scheduler", "ScheduleAtFixedRate", "validate timing")
	}
	if fn == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: task %q has no function", errors.ErrInvalidConfig, name),
			"Scheduler", "ScheduleAtFixedRate", "validate task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return nil, errors.WrapInvalid(errors.ErrNotRunning, "Scheduler", "ScheduleAtFixedRate", "check state")
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{
		name:      name,
		fn:        fn,
		ctx:       ctx,
		cancel:    cancel,
		scheduler: s,
		done:      make(chan struct{}),
		logger:    s.logger.With("task", name),
	}
	s.tasks[t] = struct{}{}

	go t.loop(initialDelay, interval)

	t.logger.Debug("Task scheduled", "initial_delay", initialDelay, "interval", interval)
	return t, nil
}

func (s *Scheduler) submit(t *Task) error {
	return s.pool.Submit(t)
}

func (s *Scheduler) remove(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every task and waits up to timeout for in-flight runs.
// It is idempotent.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[*Task]struct{})
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-deadline.C:
			s.cancel()
			return errors.WrapTransient(fmt.Errorf("task %q still running after %s", t.name, timeout),
				"Scheduler", "Stop", "wait for tasks")
		}
	}
	s.cancel()

	if err := s.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Scheduler", "Stop", "drain pool")
	}
	s.logger.Debug("Scheduler stopped", "tasks", len(tasks))
	return nil
}

// Task is a scheduled periodic function.
type Task struct {
	name      string
	fn        Func
	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *Scheduler
	done      chan struct{}
	logger    *slog.Logger

	inflight sync.WaitGroup
	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Runs returns how many times the task has completed.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Skipped returns how many ticks were dropped because a run was in flight.
func (t *Task) Skipped() int64 { return t.skipped.Load() }

// Running reports whether a run is in flight.
func (t *Task) Running() bool { return t.running.Load() }

// Done is closed once the task will not be started again and its last run,
// if any, has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops future runs and cancels the context of an in-flight run.
func (t *Task) Cancel() {
	t.cancel()
	t.scheduler.remove(t)
}

func (t *Task) loop(initialDelay, interval time.Duration) {
	defer func() {
		t.inflight.Wait()
		close(t.done)
	}()

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():
		return
	case <-timer.C:
		t.tick()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Task) tick() {
	if !t.running.CompareAndSwap(false, true) {
		t.skipped.Add(1)
		t.logger.Debug("Previous run still in progress, skipping tick")
		return
	}
	t.inflight.Add(1)
	if err := t.scheduler.submit(t); err != nil {
		t.inflight.Done()
		t.running.Store(false)
		t.skipped.Add(1)
		t.logger.Warn("Failed to submit scheduled run", "error", err)
	}
}

func (t *Task) execute() {
	defer t.inflight.Done()
	defer t.running.Store(false)
	if t.ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Scheduled task panicked", "panic", r)
		}
	}()

	t.fn(t.ctx)
	t.runs.Add(1)
}
