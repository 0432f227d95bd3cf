package rule

import (
	"log/slog"

	"github.com/c360/assetflow/sensor"
	trule "github.com/c360/assetflow/types/rule"
)

// FactStore is the part of a rule session the working memory mutates.
type FactStore interface {
	Insert(fact sensor.State) trule.FactHandle
	Retract(h trule.FactHandle) error
	Contains(fact sensor.State) bool
}

// WorkingMemory keeps at most one live fact per source id in a FactStore.
// It is owned by the engine and must only be used from the engine's
// serialized processing path.
type WorkingMemory struct {
	store   FactStore
	handles map[int]trule.FactHandle
	facts   map[int]sensor.State
	names   map[string]int
	logger  *slog.Logger
}

// NewWorkingMemory wraps store.
func NewWorkingMemory(store FactStore, logger *slog.Logger) *WorkingMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkingMemory{
		store:   store,
		handles: make(map[int]trule.FactHandle),
		facts:   make(map[int]sensor.State),
		names:   make(map[string]int),
		logger:  logger,
	}
}

// Apply inserts st, replacing any fact previously inserted for the same
// source. An equal fact already in the store is left alone.
//
// The previous fact is retracted before the new one is inserted. Its table
// entry is dropped even when the retraction fails.
func (wm *WorkingMemory) Apply(st sensor.State) Outcome {
	if wm.store.Contains(st) {
		wm.logger.Debug("Fact unchanged, skipping insert", "fact", st.String())
		return OutcomeSkipped
	}

	id := st.SourceID()
	outcome := OutcomeInserted
	if h, ok := wm.handles[id]; ok {
		outcome = OutcomeUpdated
		wm.retract(id, h)
	}

	h := wm.store.Insert(st)
	wm.handles[id] = h
	wm.facts[id] = st
	wm.names[st.SourceName()] = id

	wm.logger.Debug("Fact "+outcome.String(), "fact", st.String(), "handle", h.ID())
	return outcome
}

func (wm *WorkingMemory) retract(id int, h trule.FactHandle) {
	defer func() {
		if prev, ok := wm.facts[id]; ok {
			delete(wm.names, prev.SourceName())
		}
		delete(wm.handles, id)
		delete(wm.facts, id)
	}()

	if err := wm.store.Retract(h); err != nil {
		wm.logger.Warn("Failed to retract fact", "source_id", id, "handle", h.ID(), "error", err)
	}
}

// Lookup returns the live fact for a sensor name.
func (wm *WorkingMemory) Lookup(name string) (sensor.State, bool) {
	id, ok := wm.names[name]
	if !ok {
		return nil, false
	}
	st, ok := wm.facts[id]
	return st, ok
}

// Handle returns the live handle for a source id.
func (wm *WorkingMemory) Handle(sourceID int) (trule.FactHandle, bool) {
	h, ok := wm.handles[sourceID]
	return h, ok
}

// Len returns the number of live handles.
func (wm *WorkingMemory) Len() int {
	return len(wm.handles)
}

// Clear forgets every handle without retracting. Used after the session
// has been disposed.
func (wm *WorkingMemory) Clear() {
	wm.handles = make(map[int]trule.FactHandle)
	wm.facts = make(map[int]sensor.State)
	wm.names = make(map[string]int)
}
