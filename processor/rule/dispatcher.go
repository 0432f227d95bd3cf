package rule

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/pkg/worker"
)

// AsyncDispatch runs work off the rule-firing call stack.
type AsyncDispatch interface {
	Dispatch(kind, name string, fn func(context.Context) error) error
}

type job struct {
	kind string
	name string
	run  func(context.Context) error
}

// Dispatcher executes replacements and commands as independent work items on
// a bounded worker pool. Items may complete in any order.
type Dispatcher struct {
	pool   *worker.Pool[job]
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. registry may be nil.
func NewDispatcher(workers, queueSize int, registry metric.MetricsRegistrar, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger.With("component", "rule-dispatcher")}

	opts := []worker.Option[job]{
		worker.WithLogger[job](logger),
		worker.WithErrorHandler(func(j job, err error) {
			d.logger.Warn("Dispatched work failed", "kind", j.kind, "name", j.name, "error", err)
		}),
	}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[job](registry))
	}

	d.pool = worker.NewPool("rule_dispatch", workers, queueSize, func(ctx context.Context, j job) error {
		return j.run(ctx)
	}, opts...)
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop drains queued work for up to timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Dispatch queues fn. It fails when the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Dispatch(kind, name string, fn func(context.Context) error) error {
	return d.pool.Submit(job{kind: kind, name: name, run: fn})
}

// Stats returns pool statistics.
func (d *Dispatcher) Stats() worker.PoolStats {
	return d.pool.Stats()
}
