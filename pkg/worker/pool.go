package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetflow/metric"
)

// Pool is a fixed set of goroutines draining a bounded queue of work items of type T.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)
	logger    *slog.Logger

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	active    int64
	submitted int64
	processed int64
	failed    int64
	dropped   int64
	panics    int64

	metricsRegistry metric.MetricsRegistrar
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	items          *prometheus.CounterVec
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers the pool's metrics. Metric names are derived
// from the pool name.
func WithMetricsRegistry[T any](registry metric.MetricsRegistrar) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
	}
}

// WithLogger sets the logger used for failures and recovered panics.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		p.logger = logger
	}
}

// WithErrorHandler installs a callback invoked with every item whose
// processing returned an error or panicked.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a worker pool. name labels logs and metrics.
func NewPool[T any](name string, workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(pool)
	}
	pool.logger = pool.logger.With("component", "worker-pool", "pool", name)

	if pool.metricsRegistry != nil && name != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	labels := prometheus.Labels{"pool": p.name}

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "worker_pool",
		Name:        "queue_depth",
		Help:        "Current worker pool queue depth",
		ConstLabels: labels,
	})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "worker_pool",
		Name:        "items_total",
		Help:        "Work items by event (submitted, processed, failed, dropped, panicked)",
		ConstLabels: labels,
	}, []string{"event"})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "worker_pool",
		Name:        "processing_duration_seconds",
		Help:        "Time spent processing work items",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		ConstLabels: labels,
	}, []string{"status"})

	service := "worker_pool_" + p.name
	if err := p.metricsRegistry.RegisterGauge(service, "queue_depth", queueDepth); err != nil {
		p.logger.Warn("Worker pool metrics not registered", "error", err)
		return
	}
	if err := p.metricsRegistry.RegisterCounterVec(service, "items_total", items); err != nil {
		p.logger.Warn("Worker pool metrics not registered", "error", err)
		return
	}
	if err := p.metricsRegistry.RegisterHistogramVec(service, "processing_duration_seconds", processingTime); err != nil {
		p.logger.Warn("Worker pool metrics not registered", "error", err)
		return
	}

	p.metrics = &poolMetrics{
		queueDepth:     queueDepth,
		items:          items,
		processingTime: processingTime,
	}
}

func (p *Pool[T]) count(event string) {
	if p.metrics != nil {
		p.metrics.items.WithLabelValues(event).Inc()
	}
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		p.count("submitted")
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.count("dropped")
		return ErrQueueFull
	}
}

// Start launches the workers. Cancelling ctx stops them without draining the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to drain.
// Stop is idempotent.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Active:     atomic.LoadInt64(&p.active),
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Panics:     atomic.LoadInt64(&p.panics),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	Active     int64 `json:"active"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panics     int64 `json:"panics"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

// run processes one item. A panicking processor is recovered and counted as
// a failure so the worker survives.
func (p *Pool[T]) run(ctx context.Context, work T) {
	atomic.AddInt64(&p.active, 1)
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.panics, 1)
				p.count("panicked")
				err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
			}
		}()
		err = p.processor(ctx, work)
	}()

	atomic.AddInt64(&p.active, -1)
	atomic.AddInt64(&p.processed, 1)
	p.count("processed")

	status := "success"
	if err != nil {
		status = "error"
		atomic.AddInt64(&p.failed, 1)
		p.count("failed")
		if p.onError != nil {
			p.onError(work, err)
		} else {
			p.logger.Warn("Work item failed", "error", err)
		}
	}

	if p.metrics != nil {
		p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}
