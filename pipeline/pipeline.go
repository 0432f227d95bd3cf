// Package pipeline connects protocols to the rule engine and the asset
// registry.
//
// Every attribute value produced by a protocol goes through one serialized
// path: an attribute bound to a sensor is validated by the sensor, applied to
// the engine and committed only when no rule terminated it. Rule replacements
// re-enter the same path after the sensor step and commit into the attribute
// bound to the replacement's sensor. Committed values are published as
// attribute events off the engine path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/pkg/worker"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/protocol"
	"github.com/c360/assetflow/sensor"
)

// Store is the attribute storage the pipeline reads bindings from and
// commits into.
type Store interface {
	Attribute(ref asset.AttributeRef) (asset.Attribute, bool)
	BoundAttribute(sensorName string) (asset.AttributeRef, bool)
	Commit(ref asset.AttributeRef, value any) error
	OnChange(l asset.Listener)
}

// Engine processes sensor states.
type Engine interface {
	Process(ctx context.Context, st sensor.State) rule.Result
}

// EventPublisher publishes committed attribute events.
type EventPublisher interface {
	PublishAttribute(ctx context.Context, ev asset.Event) error
}

// Config sizes the queues.
type Config struct {
	QueueSize        int `json:"queue_size"`
	PublishQueueSize int `json:"publish_queue_size"`
}

// Dependencies holds the collaborators of a Pipeline.
type Dependencies struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Store           Store
	Sensors         rule.SensorLookup
	Engine          Engine
	// Events is optional; without it committed values are not published.
	Events EventPublisher
}

// update is one unit of work: a raw attribute value, or a replacement state
// issued by a rule.
type update struct {
	ref         asset.AttributeRef
	value       any
	replacement sensor.State
	received    time.Time
}

// Pipeline implements protocol.AttributeUpdateSink.
type Pipeline struct {
	deps    Dependencies
	logger  *slog.Logger
	metrics *metric.Metrics

	updates *worker.Pool[update]
	events  *worker.Pool[asset.Event]

	mu      sync.Mutex
	started bool
}

var _ protocol.AttributeUpdateSink = (*Pipeline)(nil)

// New creates a stopped pipeline and subscribes to store commits.
func New(config Config, deps Dependencies) (*Pipeline, error) {
	if deps.Store == nil || deps.Sensors == nil || deps.Engine == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: store, sensors and engine are required", errors.ErrMissingConfig),
			"Pipeline", "New", "check dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	p := &Pipeline{
		deps:   deps,
		logger: deps.Logger.With("component", "pipeline"),
	}
	if deps.MetricsRegistry != nil {
		p.metrics = deps.MetricsRegistry.CoreMetrics()
	}

	// One worker keeps engine delivery serialized.
	p.updates = worker.NewPool("pipeline", 1, config.QueueSize, p.process,
		worker.WithLogger[update](deps.Logger),
		worker.WithMetricsRegistry[update](registrar(deps.MetricsRegistry)))

	if deps.Events != nil {
		p.events = worker.NewPool("events", 1, config.PublishQueueSize, p.publish,
			worker.WithLogger[asset.Event](deps.Logger),
			worker.WithMetricsRegistry[asset.Event](registrar(deps.MetricsRegistry)))
		deps.Store.OnChange(p.onCommit)
	}
	return p, nil
}

func registrar(r *metric.MetricsRegistry) metric.MetricsRegistrar {
	if r == nil {
		return nil
	}
	return r
}

// Start starts the workers.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Start", "check state")
	}
	if err := p.updates.Start(ctx); err != nil {
		return errors.Wrap(err, "Pipeline", "Start", "start update worker")
	}
	if p.events != nil {
		if err := p.events.Start(ctx); err != nil {
			_ = p.updates.Stop(time.Second)
			return errors.Wrap(err, "Pipeline", "Start", "start event worker")
		}
	}
	p.started = true
	return nil
}

// Stop drains queued updates, then queued events, each for up to timeout.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false

	var errs []error
	if err := p.updates.Stop(timeout); err != nil {
		errs = append(errs, errors.Wrap(err, "Pipeline", "Stop", "stop update worker"))
	}
	if p.events != nil {
		if err := p.events.Stop(timeout); err != nil {
			errs = append(errs, errors.Wrap(err, "Pipeline", "Stop", "stop event worker"))
		}
	}
	return errors.Join(errs...)
}

// UpdateAttribute queues a raw attribute value. A full queue drops the value.
func (p *Pipeline) UpdateAttribute(_ context.Context, ref asset.AttributeRef, value any) {
	if err := p.updates.Submit(update{ref: ref, value: value, received: time.Now()}); err != nil {
		p.logger.Warn("Attribute update dropped", "attribute", ref.String(), "error", err)
		p.record("dropped")
	}
}

// ApplyState queues a replacement state issued by a rule. It is the engine's
// replace handler.
func (p *Pipeline) ApplyState(_ context.Context, st sensor.State) {
	if st == nil {
		return
	}
	if err := p.updates.Submit(update{replacement: st, received: time.Now()}); err != nil {
		p.logger.Warn("Replacement dropped", "state", st.String(), "error", err)
		p.record("dropped")
	}
}

func (p *Pipeline) process(ctx context.Context, u update) error {
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordProcessingDuration("pipeline", time.Since(u.received))
		}
	}()
	if u.replacement != nil {
		return p.processReplacement(ctx, u.replacement)
	}
	return p.processValue(ctx, u.ref, u.value)
}

func (p *Pipeline) processValue(ctx context.Context, ref asset.AttributeRef, value any) error {
	attr, ok := p.deps.Store.Attribute(ref)
	if !ok {
		p.logger.Warn("Update for unknown attribute", "attribute", ref.String())
		p.record("unknown_attribute")
		return nil
	}

	if attr.Sensor == "" {
		return p.commit(ref, value, "direct")
	}

	s, ok := p.deps.Sensors.ByName(attr.Sensor)
	if !ok {
		p.logger.Error("Attribute bound to undefined sensor", "attribute", ref.String(), "sensor", attr.Sensor)
		p.record("invalid")
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrSensorNotFound, attr.Sensor),
			"Pipeline", "processValue", "resolve sensor")
	}

	st := s.Process(RawValue(value))
	result := p.deps.Engine.Process(ctx, st)
	if result.Terminated {
		p.logger.Debug("Update superseded by rule", "attribute", ref.String(), "state", st.String(),
			"dispatch_id", result.DispatchID)
		p.record("terminated")
		return nil
	}
	return p.commit(ref, st.Value(), "processed")
}

func (p *Pipeline) processReplacement(ctx context.Context, st sensor.State) error {
	result := p.deps.Engine.Process(ctx, st)
	if result.Terminated {
		p.record("terminated")
		return nil
	}

	ref, ok := p.deps.Store.BoundAttribute(st.SourceName())
	if !ok {
		p.logger.Debug("Replacement for sensor without attribute", "sensor", st.SourceName())
		p.record("unbound")
		return nil
	}
	return p.commit(ref, st.Value(), "replaced")
}

func (p *Pipeline) commit(ref asset.AttributeRef, value any, outcome string) error {
	if err := p.deps.Store.Commit(ref, value); err != nil {
		p.logger.Error("Commit failed", "attribute", ref.String(), "error", err)
		p.record("failed")
		return err
	}
	p.record(outcome)
	return nil
}

func (p *Pipeline) onCommit(ev asset.Event) {
	if err := p.events.Submit(ev); err != nil {
		p.logger.Warn("Attribute event dropped", "attribute", ev.Ref.String(), "error", err)
		if p.metrics != nil {
			p.metrics.RecordEventPublished(false)
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, ev asset.Event) error {
	return p.deps.Events.PublishAttribute(ctx, ev)
}

func (p *Pipeline) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordAttributeUpdate(outcome)
	}
}

// RawValue renders a protocol value as sensor input. Floats are rounded to
// the nearest integer since numeric sensors take integer readings.
func RawValue(v any) string {
	switch x := v.(type) {
	case nil:
		return sensor.UnknownValue
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return sensor.UnknownValue
		}
		return strconv.FormatFloat(math.Round(x), 'f', 0, 64)
	case float32:
		return RawValue(float64(x))
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
