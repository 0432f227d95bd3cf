package weather

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetflow/metric"
)

type pollMetrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	groups        prometheus.Counter
	callFailures  prometheus.Counter
	updates       prometheus.Counter
	skipped       *prometheus.CounterVec
}

// newPollMetrics registers the poll metrics of one protocol instance. It
// returns nil when registry is nil or registration fails.
func newPollMetrics(registry *metric.MetricsRegistry, protocolID string, logger *slog.Logger) *pollMetrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"protocol": protocolID}

	m := &pollMetrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "weather",
			Name:        "poll_cycles_total",
			Help:        "Completed poll cycles",
			ConstLabels: labels,
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "weather",
			Name:        "poll_cycle_duration_seconds",
			Help:        "Duration of a poll cycle",
			ConstLabels: labels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		groups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "weather",
			Name:        "group_calls_total",
			Help:        "External calls issued, one per location group",
			ConstLabels: labels,
		}),
		callFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "weather",
			Name:        "group_call_failures_total",
			Help:        "External calls that failed",
			ConstLabels: labels,
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "weather",
			Name:        "attribute_updates_total",
			Help:        "Attribute values written to the update sink",
			ConstLabels: labels,
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "weather",
			Name:        "attributes_skipped_total",
			Help:        "Linked attributes skipped by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
	}

	service := "weather_" + protocolID
	errs := []error{
		registry.RegisterCounter(service, "poll_cycles_total", m.cycles),
		registry.RegisterHistogram(service, "poll_cycle_duration_seconds", m.cycleDuration),
		registry.RegisterCounter(service, "group_calls_total", m.groups),
		registry.RegisterCounter(service, "group_call_failures_total", m.callFailures),
		registry.RegisterCounter(service, "attribute_updates_total", m.updates),
		registry.RegisterCounterVec(service, "attributes_skipped_total", m.skipped),
	}
	for _, err := range errs {
		if err != nil {
			logger.Warn("Weather metrics not registered", "error", err)
			return nil
		}
	}
	return m
}

func (m *pollMetrics) recordCycle(d time.Duration) {
	if m != nil {
		m.cycles.Inc()
		m.cycleDuration.Observe(d.Seconds())
	}
}

func (m *pollMetrics) recordCall(failed bool) {
	if m == nil {
		return
	}
	m.groups.Inc()
	if failed {
		m.callFailures.Inc()
	}
}

func (m *pollMetrics) recordUpdate() {
	if m != nil {
		m.updates.Inc()
	}
}

func (m *pollMetrics) recordSkip(reason string, n int) {
	if m != nil && n > 0 {
		m.skipped.WithLabelValues(reason).Add(float64(n))
	}
}
