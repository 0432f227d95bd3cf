package sensor

import (
	"fmt"
	"strings"
	"time"
)

// UnknownValue is the raw value drivers report for a reading they could not
// take. It produces UnknownState without a warning.
const UnknownValue = "N/A"

// now is replaced in tests.
var now = time.Now

// Kind identifies the concrete state type a sensor produces.
type Kind int

const (
	KindUnknown Kind = iota
	KindSwitch
	KindRange
	KindLevel
	KindCustom
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindSwitch:  "switch",
	KindRange:   "range",
	KindLevel:   "level",
	KindCustom:  "custom",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name as used in sensor and rule definitions.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown sensor kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// State is an immutable snapshot of one sensor reading. A newer reading
// supersedes a state; states are never edited.
//
// Equal reports value equality: same concrete type, source id, source name
// and value. Timestamps do not participate.
type State interface {
	SourceID() int
	SourceName() string
	Timestamp() time.Time
	Value() any
	Kind() Kind
	Equal(other State) bool
	String() string
}

type source struct {
	id        int
	name      string
	timestamp time.Time
}

func newSource(id int, name string) source {
	return source{id: id, name: name, timestamp: now()}
}

func (s source) SourceID() int        { return s.id }
func (s source) SourceName() string   { return s.name }
func (s source) Timestamp() time.Time { return s.timestamp }

func (s source) same(o source) bool { return s.id == o.id && s.name == o.name }

// UnknownState marks an uninitialized or failed reading. It never equals a
// state of another type, so it cannot be confused with a real value.
type UnknownState struct {
	source
}

// NewUnknownState returns the unknown sentinel for a source.
func NewUnknownState(id int, name string) *UnknownState {
	return &UnknownState{source: newSource(id, name)}
}

func (s *UnknownState) Value() any { return UnknownValue }
func (s *UnknownState) Kind() Kind { return KindUnknown }

func (s *UnknownState) Equal(other State) bool {
	o, ok := other.(*UnknownState)
	return ok && s.same(o.source)
}

func (s *UnknownState) String() string {
	return fmt.Sprintf("UnknownState[%d:%s]", s.id, s.name)
}

// IsUnknown reports whether st is nil or the unknown sentinel.
func IsUnknown(st State) bool {
	if st == nil {
		return true
	}
	_, ok := st.(*UnknownState)
	return ok
}

// SwitchState is an on/off reading with an optional payload, for example a
// dimmer value sent along with "on".
type SwitchState struct {
	source
	on      bool
	payload string
}

// NewSwitchState creates a switch state.
func NewSwitchState(id int, name string, on bool, payload string) *SwitchState {
	return &SwitchState{source: newSource(id, name), on: on, payload: payload}
}

func (s *SwitchState) IsOn() bool      { return s.on }
func (s *SwitchState) Payload() string { return s.payload }
func (s *SwitchState) Value() any      { return s.on }
func (s *SwitchState) Kind() Kind      { return KindSwitch }

// Raw renders the state the way switch drivers report it.
func (s *SwitchState) Raw() string {
	if s.on {
		return "on"
	}
	return "off"
}

func (s *SwitchState) Equal(other State) bool {
	o, ok := other.(*SwitchState)
	return ok && s.same(o.source) && s.on == o.on && s.payload == o.payload
}

func (s *SwitchState) String() string {
	if s.payload != "" {
		return fmt.Sprintf("SwitchState[%d:%s]=%s(%s)", s.id, s.name, s.Raw(), s.payload)
	}
	return fmt.Sprintf("SwitchState[%d:%s]=%s", s.id, s.name, s.Raw())
}

// RangeState is an integer reading with the sensor's descriptive bounds.
// The value is not clamped to [Min, Max].
type RangeState struct {
	source
	value int
	min   int
	max   int
}

// NewRangeState creates a range state.
func NewRangeState(id int, name string, value, min, max int) *RangeState {
	return &RangeState{source: newSource(id, name), value: value, min: min, max: max}
}

func (s *RangeState) Int() int   { return s.value }
func (s *RangeState) Min() int   { return s.min }
func (s *RangeState) Max() int   { return s.max }
func (s *RangeState) Value() any { return s.value }
func (s *RangeState) Kind() Kind { return KindRange }

// InBounds reports whether the value lies within [Min, Max].
func (s *RangeState) InBounds() bool { return s.value >= s.min && s.value <= s.max }

func (s *RangeState) Equal(other State) bool {
	o, ok := other.(*RangeState)
	return ok && s.same(o.source) && s.value == o.value
}

func (s *RangeState) String() string {
	return fmt.Sprintf("RangeState[%d:%s]=%d [%d,%d]", s.id, s.name, s.value, s.min, s.max)
}

// Level bounds.
const (
	LevelMin = 0
	LevelMax = 100
)

// LevelState is a range reading with fixed [0,100] bounds.
type LevelState struct {
	source
	value int
}

// NewLevelState creates a level state.
func NewLevelState(id int, name string, value int) *LevelState {
	return &LevelState{source: newSource(id, name), value: value}
}

func (s *LevelState) Int() int   { return s.value }
func (s *LevelState) Min() int   { return LevelMin }
func (s *LevelState) Max() int   { return LevelMax }
func (s *LevelState) Value() any { return s.value }
func (s *LevelState) Kind() Kind { return KindLevel }

func (s *LevelState) Equal(other State) bool {
	o, ok := other.(*LevelState)
	return ok && s.same(o.source) && s.value == o.value
}

func (s *LevelState) String() string {
	return fmt.Sprintf("LevelState[%d:%s]=%d", s.id, s.name, s.value)
}

// CustomState is an enumerated reading. When the raw value was mapped,
// Value holds the mapped value and Original the raw one; otherwise both are
// the raw value.
type CustomState struct {
	source
	value    string
	original string
}

// NewCustomState creates an unmapped custom state.
func NewCustomState(id int, name, value string) *CustomState {
	return &CustomState{source: newSource(id, name), value: value, original: value}
}

// NewMappedCustomState creates a custom state retaining the original raw value.
func NewMappedCustomState(id int, name, mapped, original string) *CustomState {
	return &CustomState{source: newSource(id, name), value: mapped, original: original}
}

func (s *CustomState) Text() string     { return s.value }
func (s *CustomState) Original() string { return s.original }
func (s *CustomState) Mapped() bool     { return s.value != s.original }
func (s *CustomState) Value() any       { return s.value }
func (s *CustomState) Kind() Kind       { return KindCustom }

func (s *CustomState) Equal(other State) bool {
	o, ok := other.(*CustomState)
	return ok && s.same(o.source) && s.value == o.value && s.original == o.original
}

func (s *CustomState) String() string {
	if s.Mapped() {
		return fmt.Sprintf("CustomState[%d:%s]=%s(%s)", s.id, s.name, s.value, s.original)
	}
	return fmt.Sprintf("CustomState[%d:%s]=%s", s.id, s.name, s.value)
}
