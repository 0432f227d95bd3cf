package rule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/assetflow/sensor"
	trule "github.com/c360/assetflow/types/rule"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle uint64

func (h fakeHandle) ID() uint64 { return uint64(h) }

// fakeStore is a FactStore recording every call in order.
type fakeStore struct {
	next       uint64
	facts      map[uint64]sensor.State
	calls      []string
	retractErr error
	// maxLive is the largest number of facts per source id seen at once
	maxLive int
}

func newFakeStore() *fakeStore {
	return &fakeStore{facts: make(map[uint64]sensor.State)}
}

func (s *fakeStore) Insert(fact sensor.State) trule.FactHandle {
	s.next++
	s.facts[s.next] = fact
	s.calls = append(s.calls, fmt.Sprintf("insert:%d", s.next))

	perSource := make(map[int]int)
	for _, f := range s.facts {
		perSource[f.SourceID()]++
		if perSource[f.SourceID()] > s.maxLive {
			s.maxLive = perSource[f.SourceID()]
		}
	}
	return fakeHandle(s.next)
}

func (s *fakeStore) Retract(h trule.FactHandle) error {
	s.calls = append(s.calls, fmt.Sprintf("retract:%d", h.ID()))
	if s.retractErr != nil {
		return s.retractErr
	}
	delete(s.facts, h.ID())
	return nil
}

func (s *fakeStore) Contains(fact sensor.State) bool {
	for _, f := range s.facts {
		if f.Equal(fact) {
			return true
		}
	}
	return false
}

// fakeSession wraps fakeStore with a scripted FireAll.
type fakeSession struct {
	*fakeStore
	fire     func(ctx context.Context, pc *ProcessingContext) (int, error)
	fires    int
	disposed bool
}

func (s *fakeSession) Facts() []sensor.State {
	ids := make([]uint64, 0, len(s.facts))
	for id := range s.facts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]sensor.State, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.facts[id])
	}
	return out
}

func (s *fakeSession) FireAll(ctx context.Context, pc *ProcessingContext) (int, error) {
	s.fires++
	if s.fire == nil {
		return 0, nil
	}
	return s.fire(ctx, pc)
}

func (s *fakeSession) Dispose() { s.disposed = true }

type fakeKB struct {
	session *fakeSession
	globals *Globals
	rules   []string
	err     error
}

func (kb *fakeKB) NewSession(g *Globals) (Session, error) {
	if kb.err != nil {
		return nil, kb.err
	}
	kb.globals = g
	return kb.session, nil
}

func (kb *fakeKB) Rules() []string { return kb.rules }

// fakeBuilder accepts sources unless their content is "bad".
type fakeBuilder struct {
	kb      *fakeKB
	added   []string
	removed []string
}

func (b *fakeBuilder) Add(src trule.RuleSource) error {
	if string(src.Content) == "bad" {
		return fmt.Errorf("compile %s: syntax error", src.Path)
	}
	b.added = append(b.added, src.Path)
	return nil
}

func (b *fakeBuilder) Remove(path string) { b.removed = append(b.removed, path) }

func (b *fakeBuilder) Build() (KnowledgeBase, error) {
	if len(b.added) == 0 {
		return nil, fmt.Errorf("no sources")
	}
	b.kb.rules = append([]string(nil), b.added...)
	return b.kb, nil
}

// syncDispatch runs work inline and counts it.
type syncDispatch struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (d *syncDispatch) Dispatch(kind, _ string, fn func(context.Context) error) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	d.kinds = append(d.kinds, kind)
	d.mu.Unlock()
	return fn(context.Background())
}

type mapFacts map[string]sensor.State

func (m mapFacts) Lookup(name string) (sensor.State, bool) {
	st, ok := m[name]
	return st, ok
}
