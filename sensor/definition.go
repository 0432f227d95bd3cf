package sensor

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/assetflow/errors"
)

// Definition describes a sensor in configuration.
type Definition struct {
	ID      int               `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Kind    string            `json:"kind" yaml:"kind"`
	Min     *int              `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *int              `json:"max,omitempty" yaml:"max,omitempty"`
	States  []string          `json:"states,omitempty" yaml:"states,omitempty"`
	Mapping map[string]string `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	Strict  bool              `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// NewFromDefinition builds the sensor described by def.
func NewFromDefinition(def Definition, logger *slog.Logger) (Sensor, error) {
	if def.Name == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: sensor %d has no name", errors.ErrMissingConfig, def.ID),
			"sensor", "NewFromDefinition", "validate definition")
	}

	kind, err := ParseKind(def.Kind)
	if err != nil || kind == KindUnknown {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: sensor %q kind %q", errors.ErrInvalidConfig, def.Name, def.Kind),
			"sensor", "NewFromDefinition", "parse kind")
	}

	opt := WithLogger(logger)
	switch kind {
	case KindSwitch:
		return NewSwitchSensor(def.ID, def.Name, opt), nil
	case KindLevel:
		return NewLevelSensor(def.ID, def.Name, opt), nil
	case KindRange:
		if def.Min == nil || def.Max == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: range sensor %q needs min and max", errors.ErrMissingConfig, def.Name),
				"sensor", "NewFromDefinition", "validate bounds")
		}
		s, err := NewRangeSensor(def.ID, def.Name, *def.Min, *def.Max, opt)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		mapping := NewStateMapping(def.States...)
		raws := make([]string, 0, len(def.Mapping))
		for raw := range def.Mapping {
			raws = append(raws, raw)
		}
		sort.Strings(raws)
		for _, raw := range raws {
			mapping.Map(raw, def.Mapping[raw])
		}
		return NewCustomSensor(def.ID, def.Name, mapping, def.Strict, opt), nil
	}
}

// Snapshot is the serializable view of a state, used for events and the
// JSON codec exposed to rules.
type Snapshot struct {
	SourceID   int       `json:"source_id"`
	SourceName string    `json:"source_name"`
	Kind       Kind      `json:"kind"`
	Value      any       `json:"value"`
	Original   string    `json:"original,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	Min        *int      `json:"min,omitempty"`
	Max        *int      `json:"max,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToSnapshot converts st to its serializable form.
func ToSnapshot(st State) Snapshot {
	snap := Snapshot{
		SourceID:   st.SourceID(),
		SourceName: st.SourceName(),
		Kind:       st.Kind(),
		Value:      st.Value(),
		Timestamp:  st.Timestamp(),
	}
	switch s := st.(type) {
	case *SwitchState:
		snap.Payload = s.Payload()
	case *RangeState:
		lo, hi := s.Min(), s.Max()
		snap.Min, snap.Max = &lo, &hi
	case *LevelState:
		lo, hi := s.Min(), s.Max()
		snap.Min, snap.Max = &lo, &hi
	case *CustomState:
		if s.Mapped() {
			snap.Original = s.Original()
		}
	}
	return snap
}
