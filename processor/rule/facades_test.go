package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/sensor"
)

func facadeSensors(t *testing.T) *sensor.Registry {
	t.Helper()
	logger := discardLogger()
	reg := sensor.NewRegistry()
	require.NoError(t, reg.Add(sensor.NewSwitchSensor(1, "lamp", sensor.WithLogger(logger))))
	rs, err := sensor.NewRangeSensor(2, "temp", -10, 40, sensor.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, reg.Add(rs))
	require.NoError(t, reg.Add(sensor.NewLevelSensor(3, "dimmer", sensor.WithLogger(logger))))
	mapping := sensor.NewStateMapping("open", "closed").Map("open", "1")
	require.NoError(t, reg.Add(sensor.NewCustomSensor(4, "door", mapping, true, sensor.WithLogger(logger))))
	return reg
}

type captured struct{ states []sensor.State }

func (c *captured) replace(_ context.Context, st sensor.State) { c.states = append(c.states, st) }

func facadeContext(facts mapFacts, c *captured) *ProcessingContext {
	return NewProcessingContext(context.Background(), "d1", nil, facts, &syncDispatch{}, c.replace, discardLogger())
}

func TestSwitchFacade(t *testing.T) {
	f := NewSwitchFacade(facadeSensors(t), discardLogger())
	c := &captured{}
	pc := facadeContext(mapFacts{"lamp": sensor.NewSwitchState(1, "lamp", true, "warm")}, c)

	sw, err := f.Name(pc, "lamp")
	require.NoError(t, err)
	assert.True(t, sw.IsOn())
	assert.Equal(t, "warm", sw.Payload())

	sw.Off()
	sw.OnWithValue("cold")
	require.Len(t, c.states, 2)
	assert.True(t, c.states[0].Equal(sensor.NewSwitchState(1, "lamp", false, "")))
	assert.True(t, c.states[1].Equal(sensor.NewSwitchState(1, "lamp", true, "cold")))
	assert.True(t, pc.Terminated())

	// The adapter's own state is never mutated
	assert.True(t, sw.IsOn())
}

func TestFacade_UnknownAndMissingFactsUseDefaults(t *testing.T) {
	sensors := facadeSensors(t)
	pc := facadeContext(mapFacts{"temp": sensor.NewUnknownState(2, "temp")}, &captured{})

	r, err := NewRangeFacade(sensors, discardLogger()).Name(pc, "temp")
	require.NoError(t, err)
	assert.Equal(t, -10, r.Value())
	assert.Equal(t, -10, r.Min())
	assert.Equal(t, 40, r.Max())

	l, err := NewLevelFacade(sensors, discardLogger()).Name(pc, "dimmer")
	require.NoError(t, err)
	assert.Zero(t, l.Value())

	sw, err := NewSwitchFacade(sensors, discardLogger()).Name(pc, "lamp")
	require.NoError(t, err)
	assert.False(t, sw.IsOn())
}

func TestFacade_SensorNotFound(t *testing.T) {
	pc := facadeContext(mapFacts{}, &captured{})

	_, err := NewSwitchFacade(facadeSensors(t), discardLogger()).Name(pc, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSensorNotFound)
}

func TestFacade_TypeMismatch(t *testing.T) {
	pc := facadeContext(mapFacts{"dimmer": sensor.NewLevelState(3, "dimmer", 50)}, &captured{})

	_, err := NewSwitchFacade(facadeSensors(t), discardLogger()).Name(pc, "dimmer")
	require.Error(t, err)

	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, sensor.KindSwitch, mismatch.Expected)
	assert.Equal(t, sensor.KindLevel, mismatch.Actual)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestRangeAndLevelAdapters(t *testing.T) {
	sensors := facadeSensors(t)
	c := &captured{}
	pc := facadeContext(mapFacts{
		"temp":   sensor.NewRangeState(2, "temp", 18, -10, 40),
		"dimmer": sensor.NewLevelState(3, "dimmer", 30),
	}, c)

	r, err := NewRangeFacade(sensors, discardLogger()).Name(pc, "temp")
	require.NoError(t, err)
	assert.Equal(t, 18, r.Value())
	r.Set(55)

	l, err := NewLevelFacade(sensors, discardLogger()).Name(pc, "dimmer")
	require.NoError(t, err)
	l.Set(75)

	require.Len(t, c.states, 2)
	// Bounds are descriptive; out-of-range replacements are kept as-is
	assert.True(t, c.states[0].Equal(sensor.NewRangeState(2, "temp", 55, -10, 40)))
	assert.True(t, c.states[1].Equal(sensor.NewLevelState(3, "dimmer", 75)))
}

func TestCustomAdapter_SetStateMapsThroughSensor(t *testing.T) {
	c := &captured{}
	pc := facadeContext(mapFacts{"door": sensor.NewCustomState(4, "door", "closed")}, c)

	door, err := NewCustomFacade(facadeSensors(t), discardLogger()).Name(pc, "door")
	require.NoError(t, err)
	assert.Equal(t, "closed", door.Value())
	assert.False(t, door.Mapped())

	door.SetState("open")
	door.SetState("ajar") // strict sensor: undeclared

	require.Len(t, c.states, 2)
	mapped := c.states[0].(*sensor.CustomState)
	assert.Equal(t, "1", mapped.Text())
	assert.Equal(t, "open", mapped.Original())
	assert.True(t, sensor.IsUnknown(c.states[1]))
}
