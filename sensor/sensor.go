package sensor

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/c360/assetflow/errors"
)

// Sensor turns raw driver values into typed states. Validation happens
// here, at the edge, so the rule layer only sees well-typed facts.
type Sensor interface {
	ID() int
	Name() string
	Kind() Kind
	// Process converts a raw reading. Invalid input yields UnknownState.
	Process(raw string) State
	// DefaultState is the zero state substituted for an unknown reading
	// when rules read the sensor.
	DefaultState() State
}

// Option configures a sensor.
type Option func(*base)

// WithLogger sets the logger used for data warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type base struct {
	id     int
	name   string
	logger *slog.Logger
}

func newBase(id int, name string, kind Kind, opts []Option) base {
	b := base{id: id, name: name, logger: slog.Default()}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.With("component", "sensor", "sensor", name, "kind", kind.String())
	return b
}

func (b base) ID() int      { return b.id }
func (b base) Name() string { return b.name }

func (b base) unknown() State { return NewUnknownState(b.id, b.name) }

// isUnknownRaw reports whether raw is the unknown sentinel.
func isUnknownRaw(raw string) bool {
	return strings.TrimSpace(raw) == UnknownValue
}

// SwitchSensor accepts on/off, true/false and 1/0, case-insensitively.
type SwitchSensor struct {
	base
}

// NewSwitchSensor creates a switch sensor.
func NewSwitchSensor(id int, name string, opts ...Option) *SwitchSensor {
	return &SwitchSensor{base: newBase(id, name, KindSwitch, opts)}
}

func (s *SwitchSensor) Kind() Kind { return KindSwitch }

func (s *SwitchSensor) Process(raw string) State {
	if isUnknownRaw(raw) {
		return s.unknown()
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "1":
		return NewSwitchState(s.id, s.name, true, "")
	case "off", "false", "0":
		return NewSwitchState(s.id, s.name, false, "")
	}
	s.logger.Warn("Switch sensor received invalid value", "raw", raw)
	return s.unknown()
}

func (s *SwitchSensor) DefaultState() State {
	return NewSwitchState(s.id, s.name, false, "")
}

// RangeSensor parses integer readings and attaches its [min,max] bounds.
type RangeSensor struct {
	base
	min int
	max int
}

// NewRangeSensor creates a range sensor. It fails when min > max.
func NewRangeSensor(id int, name string, min, max int, opts ...Option) (*RangeSensor, error) {
	if min > max {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: min %d > max %d", errors.ErrInvalidConfig, min, max),
			"RangeSensor", "New", "validate bounds")
	}
	return &RangeSensor{base: newBase(id, name, KindRange, opts), min: min, max: max}, nil
}

func (s *RangeSensor) Kind() Kind { return KindRange }
func (s *RangeSensor) Min() int   { return s.min }
func (s *RangeSensor) Max() int   { return s.max }

func (s *RangeSensor) Process(raw string) State {
	v, ok := s.parse(raw)
	if !ok {
		return s.unknown()
	}
	return NewRangeState(s.id, s.name, v, s.min, s.max)
}

func (s *RangeSensor) DefaultState() State {
	return NewRangeState(s.id, s.name, s.min, s.min, s.max)
}

func (b base) parse(raw string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		if !isUnknownRaw(raw) {
			b.logger.Warn("Sensor received non-numeric value", "raw", raw)
		}
		return 0, false
	}
	return v, true
}

// LevelSensor is a range sensor with fixed [0,100] bounds.
type LevelSensor struct {
	base
}

// NewLevelSensor creates a level sensor.
func NewLevelSensor(id int, name string, opts ...Option) *LevelSensor {
	return &LevelSensor{base: newBase(id, name, KindLevel, opts)}
}

func (s *LevelSensor) Kind() Kind { return KindLevel }

func (s *LevelSensor) Process(raw string) State {
	v, ok := s.parse(raw)
	if !ok {
		return s.unknown()
	}
	return NewLevelState(s.id, s.name, v)
}

func (s *LevelSensor) DefaultState() State {
	return NewLevelState(s.id, s.name, LevelMin)
}

// CustomSensor maps enumerated raw values through a StateMapping.
type CustomSensor struct {
	base
	mapping *StateMapping
	strict  bool
}

// NewCustomSensor creates a custom sensor. In strict mode raw values outside
// the mapping produce UnknownState; otherwise they pass through unmapped.
func NewCustomSensor(id int, name string, mapping *StateMapping, strict bool, opts ...Option) *CustomSensor {
	if mapping == nil {
		mapping = NewStateMapping()
	}
	return &CustomSensor{base: newBase(id, name, KindCustom, opts), mapping: mapping, strict: strict}
}

func (s *CustomSensor) Kind() Kind             { return KindCustom }
func (s *CustomSensor) Strict() bool           { return s.strict }
func (s *CustomSensor) Mapping() *StateMapping { return s.mapping }

func (s *CustomSensor) Process(raw string) State {
	if isUnknownRaw(raw) {
		return s.unknown()
	}

	mapped, hasMapping, declared := s.mapping.Resolve(raw)
	switch {
	case !declared && s.strict:
		s.logger.Warn("Custom sensor value not in declared states", "raw", raw, "states", s.mapping.States())
		return s.unknown()
	case !declared, !hasMapping:
		return NewCustomState(s.id, s.name, raw)
	default:
		return NewMappedCustomState(s.id, s.name, mapped, raw)
	}
}

func (s *CustomSensor) DefaultState() State {
	return NewCustomState(s.id, s.name, "")
}

var (
	_ Sensor = (*SwitchSensor)(nil)
	_ Sensor = (*RangeSensor)(nil)
	_ Sensor = (*LevelSensor)(nil)
	_ Sensor = (*CustomSensor)(nil)
)
