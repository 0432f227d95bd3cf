package expression

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/sensor"
)

func newPC(s *Session, trigger sensor.State, rec *replacements) *rule.ProcessingContext {
	return rule.NewProcessingContext(context.Background(), "test-dispatch", trigger, sessionFacts{s},
		inlineDispatch{}, rec.record, discardLogger())
}

func TestSession_FiresOncePerActivation(t *testing.T) {
	s := buildSession(t, testGlobals(testSensors(t), rule.NoopPersistence{}), yamlSource(t, "r.yaml", xTurnsYOn))
	rec := &replacements{}

	xOn := sensor.NewSwitchState(1, "X", true, "")
	h := s.Insert(xOn)

	pc := newPC(s, xOn, rec)
	fired, err := s.FireAll(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, pc.Terminated())

	got := rec.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(sensor.NewSwitchState(2, "Y", true, "")))

	// Same facts, no new activation
	fired, err = s.FireAll(context.Background(), newPC(s, nil, rec))
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// Re-inserting X creates a new activation
	require.NoError(t, s.Retract(h))
	s.Insert(sensor.NewSwitchState(1, "X", true, ""))
	fired, err = s.FireAll(context.Background(), newPC(s, nil, rec))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, rec.all(), 2)
}

func TestSession_ConditionNotMet(t *testing.T) {
	s := buildSession(t, testGlobals(testSensors(t), rule.NoopPersistence{}), yamlSource(t, "r.yaml", xTurnsYOn))
	rec := &replacements{}

	xOff := sensor.NewSwitchState(1, "X", false, "")
	s.Insert(xOff)

	pc := newPC(s, xOff, rec)
	fired, err := s.FireAll(context.Background(), pc)
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.False(t, pc.Terminated())
	assert.Empty(t, rec.all())
}

func TestSession_InitRulesFireOncePerSession(t *testing.T) {
	persistence := &recordingPersistence{}
	s := buildSession(t, testGlobals(testSensors(t), persistence), yamlSource(t, "init.yaml", `
rules:
  - id: announce
    then:
      - type: log
        message: rules loaded
      - type: level
        target: dimmer
        value: 150
`))
	rec := &replacements{}

	fired, err := s.FireAll(context.Background(), newPC(s, nil, rec))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	fired, err = s.FireAll(context.Background(), newPC(s, nil, rec))
	require.NoError(t, err)
	assert.Zero(t, fired)

	// Level values are clamped to the level bounds
	got := rec.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(sensor.NewLevelState(3, "dimmer", 100)))
}

func TestSession_ActionErrorsAreJoined(t *testing.T) {
	s := buildSession(t, testGlobals(testSensors(t), rule.NoopPersistence{}), yamlSource(t, "r.yaml", `
rules:
  - id: broken
    salience: 10
    then:
      - type: switch
        target: ghost
        op: on
  - id: mismatched
    salience: 5
    then:
      - type: switch
        target: dimmer
        op: off
  - id: works
    then:
      - type: range
        target: thermostat
        value: 21
`))
	rec := &replacements{}

	fired, err := s.FireAll(context.Background(), newPC(s, nil, rec))
	assert.Equal(t, 3, fired)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSensorNotFound)

	var mismatch *rule.TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "dimmer", mismatch.Sensor)
	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 2)

	got := rec.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(sensor.NewRangeState(4, "thermostat", 21, 5, 30)))
}

func TestSession_ValueFromAndPersist(t *testing.T) {
	persistence := &recordingPersistence{}
	s := buildSession(t, testGlobals(testSensors(t), persistence), yamlSource(t, "r.yaml", `
rules:
  - id: follow
    when:
      conditions:
        - sensor: thermostat
          operator: gte
          value: 5
    then:
      - type: level
        target: dimmer
        value_from: thermostat
      - type: persist
        target: thermostat
      - type: persist
`))
	rec := &replacements{}

	temp := sensor.NewRangeState(4, "thermostat", 18, 5, 30)
	s.Insert(temp)

	fired, err := s.FireAll(context.Background(), newPC(s, temp, rec))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	got := rec.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(sensor.NewLevelState(3, "dimmer", 18)))

	require.Len(t, persistence.stored, 2)
	assert.True(t, persistence.stored[0].Equal(temp))
	assert.True(t, persistence.stored[1].Equal(temp))
}

func TestSession_ToggleUsesDefaultForMissingFact(t *testing.T) {
	s := buildSession(t, testGlobals(testSensors(t), rule.NoopPersistence{}), yamlSource(t, "r.yaml", `
rules:
  - id: toggle-y
    then:
      - type: switch
        target: Y
        op: toggle
        value: manual
`))
	rec := &replacements{}

	_, err := s.FireAll(context.Background(), newPC(s, nil, rec))
	require.NoError(t, err)

	// Y has no fact, so it reads as off and toggles on
	got := rec.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(sensor.NewSwitchState(2, "Y", true, "manual")))
}

func TestSession_FactsAndDispose(t *testing.T) {
	s := buildSession(t, testGlobals(testSensors(t), rule.NoopPersistence{}), yamlSource(t, "r.yaml", xTurnsYOn))

	a := sensor.NewSwitchState(1, "X", true, "")
	b := sensor.NewLevelState(3, "dimmer", 40)
	s.Insert(a)
	s.Insert(b)

	assert.True(t, s.Contains(sensor.NewSwitchState(1, "X", true, "")))
	assert.False(t, s.Contains(sensor.NewSwitchState(1, "X", false, "")))
	facts := s.Facts()
	require.Len(t, facts, 2)
	assert.Same(t, a, facts[0])

	assert.Error(t, s.Retract(handle(99)))

	s.Dispose()
	assert.Empty(t, s.Facts())
	_, err := s.FireAll(context.Background(), newPC(s, nil, &replacements{}))
	assert.ErrorIs(t, err, errors.ErrNotRunning)
}

// capturedArgs records the arguments of every executed command.
type capturedArgs struct {
	mu   sync.Mutex
	args []string
}

func (c *capturedArgs) driver(rule.CommandDefinition) (rule.Executable, error) {
	return rule.ExecutableFunc(func(_ context.Context, arg string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.args = append(c.args, arg)
		return nil
	}), nil
}

func TestSession_CommandJSONFormat(t *testing.T) {
	captured := &capturedArgs{}
	commands := rule.NewCommandRegistry()
	commands.RegisterDriver("capture", captured.driver)
	require.NoError(t, commands.Define(rule.CommandDefinition{Name: "report", Driver: "capture"}))

	sensors := testSensors(t)
	globals := testGlobals(sensors, rule.NoopPersistence{})
	globals.Commands = rule.NewCommandFacade(commands, inlineDispatch{}, nil, discardLogger())

	s := buildSession(t, globals, yamlSource(t, "r.yaml", `
rules:
  - id: report
    when:
      conditions:
        - sensor: X
          operator: eq
          value: "on"
    then:
      - type: command
        target: report
        format: json
        value_from: thermostat
      - type: command
        target: report
        format: json
        value: {mode: eco}
      - type: command
        target: report
        format: json
`))
	rec := &replacements{}

	s.Insert(sensor.NewRangeState(4, "thermostat", 21, 5, 30))
	xOn := sensor.NewSwitchState(1, "X", true, "")
	s.Insert(xOn)

	fired, err := s.FireAll(context.Background(), newPC(s, xOn, rec))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Len(t, captured.args, 3)

	var snap sensor.Snapshot
	require.NoError(t, json.Unmarshal([]byte(captured.args[0]), &snap))
	assert.Equal(t, "thermostat", snap.SourceName)
	assert.Equal(t, 21.0, snap.Value)

	assert.JSONEq(t, `{"mode":"eco"}`, captured.args[1])

	require.NoError(t, json.Unmarshal([]byte(captured.args[2]), &snap))
	assert.Equal(t, "X", snap.SourceName)
}

func TestSession_LogJSONFormatAttachesTrigger(t *testing.T) {
	var buf bytes.Buffer
	globals := testGlobals(testSensors(t), rule.NoopPersistence{})
	globals.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	s := buildSession(t, globals, yamlSource(t, "r.yaml", `
rules:
  - id: audit
    when:
      conditions:
        - sensor: X
          operator: eq
          value: "on"
    then:
      - type: log
        message: X switched
        format: json
`))
	xOn := sensor.NewSwitchState(1, "X", true, "")
	s.Insert(xOn)

	_, err := s.FireAll(context.Background(), newPC(s, xOn, &replacements{}))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "X switched", entry["msg"])

	raw, ok := entry["trigger_json"].(string)
	require.True(t, ok)
	var snap sensor.Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	assert.Equal(t, "X", snap.SourceName)
	assert.Equal(t, 1, snap.SourceID)
}

func TestSession_ScaleMapsOntoTargetBounds(t *testing.T) {
	s := buildSession(t, testGlobals(testSensors(t), rule.NoopPersistence{}), yamlSource(t, "r.yaml", `
rules:
  - id: scale
    when:
      conditions:
        - sensor: X
          operator: eq
          value: "on"
    then:
      - type: range
        target: thermostat
        value: 512
        scale: [0, 1024]
      - type: level
        target: dimmer
        value: 3
        scale: [0, 4]
`))
	rec := &replacements{}
	xOn := sensor.NewSwitchState(1, "X", true, "")
	s.Insert(xOn)

	_, err := s.FireAll(context.Background(), newPC(s, xOn, rec))
	require.NoError(t, err)

	got := rec.all()
	require.Len(t, got, 2)
	// 512 of [0,1024] is the midpoint of the thermostat's [5,30]
	assert.True(t, got[0].Equal(sensor.NewRangeState(4, "thermostat", 18, 5, 30)))
	assert.True(t, got[1].Equal(sensor.NewLevelState(3, "dimmer", 75)))
}
