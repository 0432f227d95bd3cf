package health

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/protocol"
)

// Probe computes a component's status on demand.
type Probe func() Status

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push their status (Update, Watch) or are polled when the
// aggregate is computed (Probe).
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
	metrics  *metric.Metrics
}

// NewMonitor creates a monitor. registry may be nil.
func NewMonitor(registry *metric.MetricsRegistry) *Monitor {
	m := &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
	if registry != nil {
		m.metrics = registry.CoreMetrics()
	}
	return m
}

// Update sets the status of a named component.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordHealthStatus(name, status.IsHealthy())
	}
}

// Watch mirrors a protocol's connection status, starting with its current
// value.
func (m *Monitor) Watch(id string, holder *protocol.StatusHolder) {
	m.Update(id, FromProtocolStatus(id, holder.Get(), holder.Reason()))
	holder.OnChange(func(_, to protocol.Status, reason string) {
		m.Update(id, FromProtocolStatus(id, to, reason))
	})
}

// Probe registers fn to be evaluated whenever the aggregate is computed.
func (m *Monitor) Probe(name string, fn Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = fn
}

// Get retrieves the pushed status for a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// AggregateHealth evaluates probes and aggregates every component.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses)+len(m.probes))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	probes := make(map[string]Probe, len(m.probes))
	for name, fn := range m.probes {
		probes[name] = fn
	}
	m.mu.RUnlock()

	for name, fn := range probes {
		status := fn()
		status.Component = name
		if m.metrics != nil {
			m.metrics.RecordHealthStatus(name, status.IsHealthy())
		}
		subs = append(subs, status)
	}
	return Aggregate(systemName, subs)
}

// HealthFunc adapts the monitor to the metrics server's /health endpoint.
// Degraded counts as serving.
func (m *Monitor) HealthFunc(systemName string) metric.HealthFunc {
	return func() (bool, any) {
		status := m.AggregateHealth(systemName)
		return !status.IsUnhealthy(), status
	}
}

// ListComponents returns the names of all monitored components, sorted.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.probes))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.probes {
		if _, pushed := m.statuses[name]; !pushed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
