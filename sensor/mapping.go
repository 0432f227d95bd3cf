package sensor

// StateMapping declares the raw values a custom sensor knows and, for some of
// them, a canonical replacement value.
type StateMapping struct {
	order  []string
	mapped map[string]string
}

// NewStateMapping declares raw states without mappings.
func NewStateMapping(states ...string) *StateMapping {
	m := &StateMapping{mapped: make(map[string]string)}
	for _, s := range states {
		m.declare(s)
	}
	return m
}

func (m *StateMapping) declare(raw string) {
	for _, s := range m.order {
		if s == raw {
			return
		}
	}
	m.order = append(m.order, raw)
}

// Map declares raw and maps it to canonical.
func (m *StateMapping) Map(raw, canonical string) *StateMapping {
	m.declare(raw)
	m.mapped[raw] = canonical
	return m
}

// Resolve looks up raw. declared is false for raw values outside the mapping.
func (m *StateMapping) Resolve(raw string) (mapped string, hasMapping, declared bool) {
	for _, s := range m.order {
		if s == raw {
			declared = true
			break
		}
	}
	mapped, hasMapping = m.mapped[raw]
	return mapped, hasMapping, declared
}

// States returns the declared raw states in declaration order.
func (m *StateMapping) States() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
