package rule

import (
	"fmt"
	"log/slog"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/sensor"
)

// TypeMismatchError reports a rule reading a sensor through the facade of
// another sensor kind. It is a wiring bug, not bad data.
type TypeMismatchError struct {
	Sensor   string
	Expected sensor.Kind
	Actual   sensor.Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("sensor %q is %s, not %s", e.Sensor, e.Actual, e.Expected)
}

func (e *TypeMismatchError) Unwrap() error { return errors.ErrTypeMismatch }

// SensorLookup finds sensor definitions by name.
type SensorLookup interface {
	ByName(name string) (sensor.Sensor, bool)
}

type stateFacade struct {
	sensors SensorLookup
	logger  *slog.Logger
}

// resolve reads name from the dispatch's working memory. Unknown readings
// and sensors without a fact yet resolve to the sensor's default state.
func resolve[S sensor.State](f stateFacade, pc *ProcessingContext, name string, kind sensor.Kind) (S, sensor.Sensor, error) {
	var zero S

	var def sensor.Sensor
	registered := false
	if f.sensors != nil {
		def, registered = f.sensors.ByName(name)
	}

	st, found := pc.Lookup(name)
	if !found || sensor.IsUnknown(st) {
		if !registered {
			return zero, nil, errors.Wrap(fmt.Errorf("%w: %s", errors.ErrSensorNotFound, name),
				kind.String()+"Facade", "Name", "resolve sensor")
		}
		st = def.DefaultState()
	}

	typed, ok := st.(S)
	if !ok {
		err := &TypeMismatchError{Sensor: name, Expected: kind, Actual: st.Kind()}
		f.logger.Error("Sensor type mismatch in rule", "sensor", name, "expected", kind.String(), "actual", st.Kind().String())
		return zero, nil, err
	}
	return typed, def, nil
}

// SwitchFacade reads switch sensors.
type SwitchFacade struct{ stateFacade }

// NewSwitchFacade creates a switch facade.
func NewSwitchFacade(sensors SensorLookup, logger *slog.Logger) *SwitchFacade {
	return &SwitchFacade{stateFacade{sensors: sensors, logger: facadeLogger(logger, "switch")}}
}

// Name returns an adapter over the current state of the named switch.
func (f *SwitchFacade) Name(pc *ProcessingContext, name string) (*SwitchAdapter, error) {
	st, _, err := resolve[*sensor.SwitchState](f.stateFacade, pc, name, sensor.KindSwitch)
	if err != nil {
		return nil, err
	}
	return &SwitchAdapter{pc: pc, state: st}, nil
}

// SwitchAdapter exposes a switch state to rules. Mutating operations issue
// a replacement through the processing context.
type SwitchAdapter struct {
	pc    *ProcessingContext
	state *sensor.SwitchState
}

func (a *SwitchAdapter) State() *sensor.SwitchState { return a.state }
func (a *SwitchAdapter) IsOn() bool                 { return a.state.IsOn() }
func (a *SwitchAdapter) Payload() string            { return a.state.Payload() }

func (a *SwitchAdapter) On()  { a.set(true, "") }
func (a *SwitchAdapter) Off() { a.set(false, "") }

// OnWithValue switches on, carrying value as payload.
func (a *SwitchAdapter) OnWithValue(value string) { a.set(true, value) }

// OffWithValue switches off, carrying value as payload.
func (a *SwitchAdapter) OffWithValue(value string) { a.set(false, value) }

func (a *SwitchAdapter) set(on bool, payload string) {
	a.pc.TerminateAndReplaceWith(sensor.NewSwitchState(a.state.SourceID(), a.state.SourceName(), on, payload))
}

// RangeFacade reads range sensors.
type RangeFacade struct{ stateFacade }

// NewRangeFacade creates a range facade.
func NewRangeFacade(sensors SensorLookup, logger *slog.Logger) *RangeFacade {
	return &RangeFacade{stateFacade{sensors: sensors, logger: facadeLogger(logger, "range")}}
}

// Name returns an adapter over the current state of the named range sensor.
func (f *RangeFacade) Name(pc *ProcessingContext, name string) (*RangeAdapter, error) {
	st, _, err := resolve[*sensor.RangeState](f.stateFacade, pc, name, sensor.KindRange)
	if err != nil {
		return nil, err
	}
	return &RangeAdapter{pc: pc, state: st}, nil
}

// RangeAdapter exposes a range state to rules.
type RangeAdapter struct {
	pc    *ProcessingContext
	state *sensor.RangeState
}

func (a *RangeAdapter) State() *sensor.RangeState { return a.state }
func (a *RangeAdapter) Value() int                { return a.state.Int() }
func (a *RangeAdapter) Min() int                  { return a.state.Min() }
func (a *RangeAdapter) Max() int                  { return a.state.Max() }

// Set replaces the reading with v, keeping the sensor's bounds.
func (a *RangeAdapter) Set(v int) {
	a.pc.TerminateAndReplaceWith(sensor.NewRangeState(a.state.SourceID(), a.state.SourceName(), v, a.state.Min(), a.state.Max()))
}

// LevelFacade reads level sensors.
type LevelFacade struct{ stateFacade }

// NewLevelFacade creates a level facade.
func NewLevelFacade(sensors SensorLookup, logger *slog.Logger) *LevelFacade {
	return &LevelFacade{stateFacade{sensors: sensors, logger: facadeLogger(logger, "level")}}
}

// Name returns an adapter over the current state of the named level sensor.
func (f *LevelFacade) Name(pc *ProcessingContext, name string) (*LevelAdapter, error) {
	st, _, err := resolve[*sensor.LevelState](f.stateFacade, pc, name, sensor.KindLevel)
	if err != nil {
		return nil, err
	}
	return &LevelAdapter{pc: pc, state: st}, nil
}

// LevelAdapter exposes a level state to rules.
type LevelAdapter struct {
	pc    *ProcessingContext
	state *sensor.LevelState
}

func (a *LevelAdapter) State() *sensor.LevelState { return a.state }
func (a *LevelAdapter) Value() int                { return a.state.Int() }

// Set replaces the level with v.
func (a *LevelAdapter) Set(v int) {
	a.pc.TerminateAndReplaceWith(sensor.NewLevelState(a.state.SourceID(), a.state.SourceName(), v))
}

// CustomFacade reads custom sensors.
type CustomFacade struct{ stateFacade }

// NewCustomFacade creates a custom facade.
func NewCustomFacade(sensors SensorLookup, logger *slog.Logger) *CustomFacade {
	return &CustomFacade{stateFacade{sensors: sensors, logger: facadeLogger(logger, "custom")}}
}

// Name returns an adapter over the current state of the named custom sensor.
func (f *CustomFacade) Name(pc *ProcessingContext, name string) (*CustomAdapter, error) {
	st, def, err := resolve[*sensor.CustomState](f.stateFacade, pc, name, sensor.KindCustom)
	if err != nil {
		return nil, err
	}
	return &CustomAdapter{pc: pc, state: st, sensor: def}, nil
}

// CustomAdapter exposes a custom state to rules.
type CustomAdapter struct {
	pc     *ProcessingContext
	state  *sensor.CustomState
	sensor sensor.Sensor
}

func (a *CustomAdapter) State() *sensor.CustomState { return a.state }
func (a *CustomAdapter) Value() string              { return a.state.Text() }
func (a *CustomAdapter) Original() string           { return a.state.Original() }
func (a *CustomAdapter) Mapped() bool               { return a.state.Mapped() }

// SetState replaces the reading with raw, mapped through the sensor's
// declared states when the sensor is known.
func (a *CustomAdapter) SetState(raw string) {
	var next sensor.State = sensor.NewCustomState(a.state.SourceID(), a.state.SourceName(), raw)
	if a.sensor != nil {
		next = a.sensor.Process(raw)
	}
	a.pc.TerminateAndReplaceWith(next)
}

func facadeLogger(logger *slog.Logger, kind string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("facade", kind)
}
