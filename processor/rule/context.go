package rule

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/assetflow/sensor"
)

// FactLookup resolves the live fact for a sensor name.
type FactLookup interface {
	Lookup(name string) (sensor.State, bool)
}

// ReplaceFunc applies a replacement state. It runs on a dispatcher worker.
type ReplaceFunc func(ctx context.Context, st sensor.State)

// ProcessingContext is created for one dispatch of one state through the
// engine and passed explicitly to every facade call made while firing.
type ProcessingContext struct {
	ctx      context.Context
	id       string
	trigger  sensor.State
	facts    FactLookup
	dispatch AsyncDispatch
	replace  ReplaceFunc
	logger   *slog.Logger

	terminated   atomic.Bool
	replacements atomic.Int32
}

// NewProcessingContext creates a processing context. trigger is nil for the
// startup firing.
func NewProcessingContext(ctx context.Context, id string, trigger sensor.State, facts FactLookup,
	dispatch AsyncDispatch, replace ReplaceFunc, logger *slog.Logger) *ProcessingContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessingContext{
		ctx:      ctx,
		id:       id,
		trigger:  trigger,
		facts:    facts,
		dispatch: dispatch,
		replace:  replace,
		logger:   logger,
	}
}

// Context returns the context of the call that started this dispatch.
func (pc *ProcessingContext) Context() context.Context { return pc.ctx }

// ID identifies this dispatch in logs.
func (pc *ProcessingContext) ID() string { return pc.id }

// Trigger returns the state being processed.
func (pc *ProcessingContext) Trigger() sensor.State { return pc.trigger }

// Lookup resolves a sensor from the working memory being fired.
func (pc *ProcessingContext) Lookup(name string) (sensor.State, bool) {
	if pc.facts == nil {
		return nil, false
	}
	return pc.facts.Lookup(name)
}

// Terminated reports whether a rule replaced the triggering state.
func (pc *ProcessingContext) Terminated() bool { return pc.terminated.Load() }

// Replacements returns how many replacements this dispatch issued.
func (pc *ProcessingContext) Replacements() int { return int(pc.replacements.Load()) }

// Terminate marks the triggering state as superseded. The flag is write-once.
func (pc *ProcessingContext) Terminate() {
	if pc.terminated.CompareAndSwap(false, true) {
		pc.logger.Debug("Dispatch terminated", "dispatch_id", pc.id)
	}
}

// TerminateAndReplaceWith terminates this dispatch and applies st
// asynchronously. It returns before st is processed.
func (pc *ProcessingContext) TerminateAndReplaceWith(st sensor.State) {
	pc.Terminate()

	if pc.dispatch == nil || pc.replace == nil {
		pc.logger.Warn("No replacement path configured, dropping replacement",
			"dispatch_id", pc.id, "state", st.String())
		return
	}

	pc.replacements.Add(1)
	replace := pc.replace
	err := pc.dispatch.Dispatch("replace", st.SourceName(), func(ctx context.Context) error {
		replace(ctx, st)
		return nil
	})
	if err != nil {
		pc.logger.Error("Failed to dispatch replacement",
			"dispatch_id", pc.id, "state", st.String(), "error", err)
	}
}
