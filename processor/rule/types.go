package rule

import (
	"fmt"

	trule "github.com/c360/assetflow/types/rule"
)

// Rule technology contract instantiated for this engine.
type (
	Session       = trule.Session[*ProcessingContext]
	KnowledgeBase = trule.KnowledgeBase[*Globals, *ProcessingContext]
	Builder       = trule.Builder[*Globals, *ProcessingContext]
)

// BuilderFactory returns a fresh builder for each engine start.
type BuilderFactory func() Builder

// EngineState is the lifecycle state of an Engine.
type EngineState int32

const (
	StateStopped EngineState = iota
	StateStarting
	StateRunning
	StateProcessing
	StateStopping
)

func (s EngineState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateProcessing:
		return "processing"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is the effect of applying one fact to working memory.
type Outcome int

const (
	// OutcomeNone means the fact was not applied (engine not running or
	// running without a rule base).
	OutcomeNone Outcome = iota
	// OutcomeSkipped means an equal fact was already present.
	OutcomeSkipped
	OutcomeInserted
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "none"
	}
}

// Result reports what processing one state did.
type Result struct {
	Outcome Outcome
	// Fired is the number of rules fired in this cycle.
	Fired int
	// Terminated is set when a rule replaced the triggering state. The caller
	// must then suppress its own propagation of the original state.
	Terminated bool
	DispatchID string
	Err        error
}
