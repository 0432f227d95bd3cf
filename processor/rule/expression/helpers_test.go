package expression

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/sensor"
	trule "github.com/c360/assetflow/types/rule"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// inlineDispatch runs dispatched work immediately.
type inlineDispatch struct{}

func (inlineDispatch) Dispatch(_, _ string, fn func(context.Context) error) error {
	return fn(context.Background())
}

// replacements records replacement states.
type replacements struct {
	mu     sync.Mutex
	states []sensor.State
}

func (r *replacements) record(_ context.Context, st sensor.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *replacements) all() []sensor.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sensor.State(nil), r.states...)
}

// sessionFacts resolves names against a session's facts.
type sessionFacts struct{ s *Session }

func (f sessionFacts) Lookup(name string) (sensor.State, bool) {
	id, ok := f.s.byName()[name]
	if !ok {
		return nil, false
	}
	return f.s.facts[id], true
}

type recordingPersistence struct {
	mu     sync.Mutex
	stored []sensor.State
}

func (p *recordingPersistence) Store(_ context.Context, st sensor.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored = append(p.stored, st)
	return nil
}

func testSensors(t *testing.T) *sensor.Registry {
	t.Helper()
	reg := sensor.NewRegistry()
	logger := discardLogger()
	require.NoError(t, reg.Add(sensor.NewSwitchSensor(1, "X", sensor.WithLogger(logger))))
	require.NoError(t, reg.Add(sensor.NewSwitchSensor(2, "Y", sensor.WithLogger(logger))))
	require.NoError(t, reg.Add(sensor.NewLevelSensor(3, "dimmer", sensor.WithLogger(logger))))
	rs, err := sensor.NewRangeSensor(4, "thermostat", 5, 30, sensor.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, reg.Add(rs))
	return reg
}

func testGlobals(sensors rule.SensorLookup, persistence rule.Persistence) *rule.Globals {
	logger := discardLogger()
	return &rule.Globals{
		Commands:    rule.NewCommandFacade(nil, inlineDispatch{}, nil, logger),
		Switches:    rule.NewSwitchFacade(sensors, logger),
		Ranges:      rule.NewRangeFacade(sensors, logger),
		Levels:      rule.NewLevelFacade(sensors, logger),
		Customs:     rule.NewCustomFacade(sensors, logger),
		Persistence: persistence,
		Logger:      logger,
	}
}

func yamlSource(t *testing.T, path, content string) trule.RuleSource {
	t.Helper()
	return trule.RuleSource{Path: path, Content: []byte(content), Kind: trule.SourceYAML}
}

func jsonSource(t *testing.T, path, content string) trule.RuleSource {
	t.Helper()
	return trule.RuleSource{Path: path, Content: []byte(content), Kind: trule.SourceJSON}
}

func buildSession(t *testing.T, globals *rule.Globals, sources ...trule.RuleSource) *Session {
	t.Helper()
	b := NewBuilder(discardLogger())
	for _, src := range sources {
		require.NoError(t, b.Add(src))
	}
	kb, err := b.Build()
	require.NoError(t, err)
	s, err := kb.NewSession(globals)
	require.NoError(t, err)
	return s.(*Session)
}

const xTurnsYOn = `
rules:
  - id: x-on-turns-y-on
    name: Turn Y on with X
    when:
      logic: and
      conditions:
        - sensor: X
          field: value
          operator: eq
          value: "on"
    then:
      - type: switch
        target: Y
        op: on
`
