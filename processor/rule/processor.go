package rule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/sensor"
	trule "github.com/c360/assetflow/types/rule"
)

// Dependencies holds the collaborators of an Engine.
type Dependencies struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry

	// Sensors resolves sensor definitions for the facades.
	Sensors SensorLookup
	// Persistence backs the persistence binding. Defaults to NoopPersistence.
	Persistence Persistence
	// Sources enumerates rule text at start.
	Sources trule.RuleSourceProvider
	// Builders creates the rule technology's compiler.
	Builders BuilderFactory
	// OnReplace receives replacement states issued by rules. Defaults to
	// feeding them back into the engine.
	OnReplace ReplaceFunc
}

// EngineStats is a point-in-time view of the engine.
type EngineStats struct {
	State     EngineState
	Rules     int
	Facts     int
	Processed int64
	Fired     int64
}

// Engine drives a rule technology. States are applied to the working memory
// one at a time and every applicable rule is fired for each.
type Engine struct {
	config Config
	deps   Dependencies
	logger *slog.Logger

	// mu serializes Process with the lifecycle
	mu    sync.Mutex
	state atomic.Int32

	kb         KnowledgeBase
	session    Session
	memory     *WorkingMemory
	dispatcher *Dispatcher
	globals    *Globals

	metrics   *Metrics
	processed atomic.Int64
	fired     atomic.Int64
}

// NewEngine creates a stopped engine.
func NewEngine(config Config, deps Dependencies) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Builders == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: rule builder factory", errors.ErrMissingConfig),
			"Engine", "NewEngine", "check dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Persistence == nil {
		deps.Persistence = NoopPersistence{}
	}
	if deps.Sources == nil {
		deps.Sources = config.Sources(deps.Logger)
	}

	logger := deps.Logger.With("component", "rule-engine")
	e := &Engine{
		config:  config,
		deps:    deps,
		logger:  logger,
		metrics: newMetrics(deps.MetricsRegistry, logger),
	}
	e.state.Store(int32(StateStopped))
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

func (e *Engine) setState(s EngineState) {
	e.state.Store(int32(s))
}

// SetReplaceHandler overrides where replacement states go. It must be called
// before Start.
func (e *Engine) SetReplaceHandler(fn ReplaceFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deps.OnReplace = fn
}

// Start compiles the rule sources, opens a session and fires once with no
// triggering state so rules without conditions run. A rule base that fails
// to compile leaves the engine running in pass-through mode.
func (e *Engine) Start(ctx context.Context, commands CommandDispatcher) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "check state")
	}
	e.setState(StateStarting)

	e.dispatcher = NewDispatcher(e.config.DispatchWorkers, e.config.DispatchQueueSize, e.registrar(), e.deps.Logger)
	if err := e.dispatcher.Start(ctx); err != nil {
		e.dispatcher = nil
		e.setState(StateStopped)
		return errors.Wrap(err, "Engine", "Start", "start dispatcher")
	}

	e.kb = e.compile(ctx)

	e.globals = e.newGlobals(commands)

	if e.kb != nil {
		session, err := e.kb.NewSession(e.globals)
		if err != nil {
			e.logger.Error("Failed to create rule session, running without rules", "error", err)
		} else {
			e.session = session
			e.memory = NewWorkingMemory(session, e.logger)
		}
	}

	e.setState(StateRunning)

	if e.session != nil {
		pc := e.newContext(ctx, nil)
		fired, err := e.fire(pc)
		e.logger.Info("Rule engine started",
			"rules", len(e.kb.Rules()),
			"initial_fired", fired,
			"error", err)
	} else {
		e.logger.Warn("Rule engine started without rules, states pass through unchanged")
	}

	return nil
}

func (e *Engine) registrar() metric.MetricsRegistrar {
	if e.deps.MetricsRegistry == nil {
		return nil
	}
	return e.deps.MetricsRegistry
}

// compile builds the knowledge base from every source that compiles.
func (e *Engine) compile(ctx context.Context) KnowledgeBase {
	if e.deps.Sources == nil {
		e.logger.Warn("No rule source provider configured")
		e.metrics.setActiveRules(0)
		return nil
	}

	sources, err := e.deps.Sources.Resources(ctx)
	if err != nil {
		e.logger.Error("Some rule sources could not be read", "error", err, "chain", errors.Chain(err))
	}
	if len(sources) == 0 {
		e.logger.Warn("No rule sources found")
		e.metrics.setActiveRules(0)
		return nil
	}

	builder := e.deps.Builders()
	accepted := 0
	for _, src := range sources {
		if err := builder.Add(src); err != nil {
			e.logger.Error("Rule source failed to compile, skipping",
				"path", src.Path, "kind", src.Kind, "error", err)
			builder.Remove(src.Path)
			e.metrics.recordCompileFailure()
			continue
		}
		accepted++
		e.logger.Debug("Rule source compiled", "path", src.Path)
	}

	kb, err := builder.Build()
	if err != nil {
		e.logger.Error("Failed to build rule base", "error", err, "accepted_sources", accepted)
		e.metrics.recordCompileFailure()
		e.metrics.setActiveRules(0)
		return nil
	}

	rules := kb.Rules()
	e.metrics.setActiveRules(len(rules))
	e.logger.Info("Rule base compiled", "sources", len(sources), "accepted", accepted, "rules", len(rules))
	return kb
}

func (e *Engine) newGlobals(commands CommandDispatcher) *Globals {
	logger := e.deps.Logger
	return &Globals{
		Commands:    NewCommandFacade(commands, e.dispatcher, e.metrics, logger),
		Switches:    NewSwitchFacade(e.deps.Sensors, logger),
		Ranges:      NewRangeFacade(e.deps.Sensors, logger),
		Levels:      NewLevelFacade(e.deps.Sensors, logger),
		Customs:     NewCustomFacade(e.deps.Sensors, logger),
		Persistence: e.deps.Persistence,
		Util:        Util{},
		JSON:        JSONCodec{},
		Logger:      logger.With("component", "rules"),
	}
}

func (e *Engine) newContext(ctx context.Context, trigger sensor.State) *ProcessingContext {
	replace := e.deps.OnReplace
	if replace == nil {
		replace = func(ctx context.Context, st sensor.State) { e.Process(ctx, st) }
	}

	var facts FactLookup
	if e.memory != nil {
		facts = e.memory
	}

	var dispatch AsyncDispatch
	if e.dispatcher != nil {
		dispatch = e.dispatcher
	}

	return NewProcessingContext(ctx, uuid.NewString(), trigger, facts, dispatch, replace, e.logger)
}

// Process applies st to the working memory and fires every applicable rule.
// The returned Result reports whether a rule terminated the dispatch; if so
// the caller must not propagate st itself.
func (e *Engine) Process(ctx context.Context, st sensor.State) Result {
	if st == nil {
		return Result{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateRunning {
		e.logger.Debug("Engine not running, ignoring state", "state", e.State().String(), "fact", st.String())
		return Result{}
	}
	if e.session == nil {
		return Result{}
	}

	e.setState(StateProcessing)
	defer e.setState(StateRunning)
	e.processed.Add(1)

	pc := e.newContext(ctx, st)

	outcome := e.memory.Apply(st)
	e.metrics.recordFact(outcome)

	// Fire even when the fact was a duplicate so time-based rules still run.
	result := Result{Outcome: outcome, DispatchID: pc.ID()}
	result.Fired, result.Err = e.fire(pc)
	result.Terminated = pc.Terminated()
	if result.Terminated {
		e.metrics.recordTermination()
	}
	return result
}

// fire runs the agenda. A panicking or failing rule is logged and never
// escapes to the caller.
func (e *Engine) fire(pc *ProcessingContext) (fired int, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule firing panicked: %v", r)
		}
		if err != nil {
			e.logger.Error("Rule firing failed",
				"dispatch_id", pc.ID(),
				"trigger", triggerName(pc.Trigger()),
				"errors", errors.Chain(err))
		}
		e.fired.Add(int64(fired))
		e.metrics.recordFire(fired, time.Since(start), err != nil)
	}()

	return e.session.FireAll(pc.Context(), pc)
}

func triggerName(st sensor.State) string {
	if st == nil {
		return "<start>"
	}
	return st.String()
}

// Stop disposes the session and drains dispatched work for up to the
// configured stop timeout. It is safe to call on a stopped engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.State() == StateStopped {
		e.mu.Unlock()
		return nil
	}
	e.setState(StateStopping)

	dispatcher := e.dispatcher
	e.dispatcher = nil
	if e.session != nil {
		e.session.Dispose()
		e.session = nil
	}
	if e.memory != nil {
		e.memory.Clear()
		e.memory = nil
	}
	e.kb = nil
	e.globals = nil
	e.mu.Unlock()

	var err error
	if dispatcher != nil {
		timeout := e.config.stopTimeout()
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if stopErr := dispatcher.Stop(timeout); stopErr != nil {
			err = errors.Wrap(stopErr, "Engine", "Stop", "drain dispatcher")
		}
	}

	e.setState(StateStopped)
	e.logger.Info("Rule engine stopped", "processed", e.processed.Load(), "fired", e.fired.Load())
	return err
}

// Stats returns engine statistics.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := EngineStats{
		State:     e.State(),
		Processed: e.processed.Load(),
		Fired:     e.fired.Load(),
	}
	if e.kb != nil {
		stats.Rules = len(e.kb.Rules())
	}
	if e.memory != nil {
		stats.Facts = e.memory.Len()
	}
	return stats
}

// Fact returns the live fact for a sensor name.
func (e *Engine) Fact(name string) (sensor.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.memory == nil {
		return nil, false
	}
	return e.memory.Lookup(name)
}

// Healthy reports whether the engine is accepting states.
func (e *Engine) Healthy() bool {
	s := e.State()
	return s == StateRunning || s == StateProcessing
}
