package expression

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/sensor"
	trule "github.com/c360/assetflow/types/rule"
)

var (
	_ rule.KnowledgeBase = (*KnowledgeBase)(nil)
	_ rule.Session       = (*Session)(nil)
)

// KnowledgeBase is an immutable set of compiled rules.
type KnowledgeBase struct {
	rules     []*compiledRule
	evaluator *Evaluator
	logger    *slog.Logger
}

// Rules returns the rule ids in firing order.
func (kb *KnowledgeBase) Rules() []string {
	ids := make([]string, len(kb.rules))
	for i, r := range kb.rules {
		ids[i] = r.id
	}
	return ids
}

// NewSession opens a session bound to globals.
func (kb *KnowledgeBase) NewSession(globals *rule.Globals) (rule.Session, error) {
	if globals == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: rule globals", errors.ErrMissingConfig),
			"KnowledgeBase", "NewSession", "bind globals")
	}
	return &Session{
		kb:      kb,
		globals: globals,
		facts:   make(map[uint64]sensor.State),
		fired:   make(map[string]string),
		logger:  kb.logger,
	}, nil
}

type handle uint64

func (h handle) ID() uint64 { return uint64(h) }

// Session holds facts by handle and fires rules against them. Each rule
// fires once per distinct combination of the fact handles its conditions
// read; inserting a new fact for a sensor creates a new combination.
type Session struct {
	kb      *KnowledgeBase
	globals *rule.Globals
	logger  *slog.Logger

	next     uint64
	facts    map[uint64]sensor.State
	fired    map[string]string // rule id -> last activation key
	disposed bool
}

// Insert adds fact and returns its handle.
func (s *Session) Insert(fact sensor.State) trule.FactHandle {
	if s.disposed {
		s.logger.Warn("Insert on disposed session ignored", "fact", fact.String())
		return handle(0)
	}
	s.next++
	s.facts[s.next] = fact
	return handle(s.next)
}

// Retract removes the fact behind h.
func (s *Session) Retract(h trule.FactHandle) error {
	if h == nil {
		return fmt.Errorf("retract: nil handle")
	}
	if _, ok := s.facts[h.ID()]; !ok {
		return fmt.Errorf("retract: no fact for handle %d", h.ID())
	}
	delete(s.facts, h.ID())
	return nil
}

// Contains reports whether an equal fact is present.
func (s *Session) Contains(fact sensor.State) bool {
	for _, f := range s.facts {
		if f.Equal(fact) {
			return true
		}
	}
	return false
}

// Facts returns the facts in insertion order.
func (s *Session) Facts() []sensor.State {
	ids := s.handleIDs()
	out := make([]sensor.State, len(ids))
	for i, id := range ids {
		out[i] = s.facts[id]
	}
	return out
}

func (s *Session) handleIDs() []uint64 {
	ids := make([]uint64, 0, len(s.facts))
	for id := range s.facts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// byName indexes the newest fact per sensor name.
func (s *Session) byName() map[string]uint64 {
	names := make(map[string]uint64, len(s.facts))
	for id, f := range s.facts {
		if id > names[f.SourceName()] {
			names[f.SourceName()] = id
		}
	}
	return names
}

// FireAll fires every rule whose conditions hold and that has not yet fired
// for the current facts. Action errors do not stop other activations; they
// are returned joined.
func (s *Session) FireAll(ctx context.Context, pc *rule.ProcessingContext) (int, error) {
	if s.disposed {
		return 0, errors.WrapInvalid(errors.ErrNotRunning, "Session", "FireAll", "fire disposed session")
	}

	names := s.byName()
	resolve := func(name string) (sensor.State, bool) {
		id, ok := names[name]
		if !ok {
			return nil, false
		}
		return s.facts[id], true
	}

	fired := 0
	var errs []error
	for _, r := range s.kb.rules {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		match, err := s.kb.evaluator.Evaluate(resolve, r.when)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.id, err))
			continue
		}
		if !match {
			continue
		}

		// Handles only grow, so an older key can never match again.
		key := activationKey(r.sensors, names)
		if last, ok := s.fired[r.id]; ok && last == key {
			continue
		}
		s.fired[r.id] = key

		fired++
		s.logger.Debug("Rule fired", "rule", r.id, "name", r.name, "source", r.source,
			"activation", key, "dispatch_id", pc.ID())
		for i, act := range r.actions {
			if err := act(s.globals, pc); err != nil {
				errs = append(errs, fmt.Errorf("rule %s action %d: %w", r.id, i, err))
			}
		}
	}

	return fired, errors.Join(errs...)
}

// activationKey identifies the facts a rule matched. Rules without
// conditions share the empty key and so fire once per session.
func activationKey(sensors []string, names map[string]uint64) string {
	parts := make([]string, len(sensors))
	for i, name := range sensors {
		parts[i] = strconv.FormatUint(names[name], 10)
	}
	return strings.Join(parts, ",")
}

// Dispose releases every fact. The session cannot be used afterwards.
func (s *Session) Dispose() {
	s.disposed = true
	s.facts = make(map[uint64]sensor.State)
	s.fired = make(map[string]string)
}
