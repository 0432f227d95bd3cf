package rule

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetflow/metric"
)

// Metrics holds Prometheus metrics for the rule engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	factsTotal      *prometheus.CounterVec
	firedTotal      prometheus.Counter
	fireErrors      prometheus.Counter
	fireDuration    prometheus.Histogram
	activeRules     prometheus.Gauge
	compileFailures prometheus.Counter
	terminations    prometheus.Counter
	commandsTotal   *prometheus.CounterVec
}

// newMetrics creates and registers rule engine metrics. It returns nil when
// registry is nil or registration fails.
func newMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		factsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "facts_total",
			Help:      "Facts applied to working memory by outcome",
		}, []string{"outcome"}),

		firedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "fired_total",
			Help:      "Total rule activations fired",
		}),

		fireErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "fire_errors_total",
			Help:      "Firing cycles that ended with an error or panic",
		}),

		fireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "fire_duration_seconds",
			Help:      "Time spent applying a fact and firing rules",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1.0},
		}),

		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "active_rules",
			Help:      "Number of rules in the compiled knowledge base",
		}),

		compileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "compile_failures_total",
			Help:      "Rule sources rejected at compile time",
		}),

		terminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "terminations_total",
			Help:      "Dispatches terminated by a rule replacement",
		}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rule",
			Name:      "commands_total",
			Help:      "Commands issued by rules by outcome",
		}, []string{"outcome"}),
	}

	const service = "rule_engine"
	errs := []error{
		registry.RegisterCounterVec(service, "facts_total", m.factsTotal),
		registry.RegisterCounter(service, "fired_total", m.firedTotal),
		registry.RegisterCounter(service, "fire_errors_total", m.fireErrors),
		registry.RegisterHistogram(service, "fire_duration_seconds", m.fireDuration),
		registry.RegisterGauge(service, "active_rules", m.activeRules),
		registry.RegisterCounter(service, "compile_failures_total", m.compileFailures),
		registry.RegisterCounter(service, "terminations_total", m.terminations),
		registry.RegisterCounterVec(service, "commands_total", m.commandsTotal),
	}
	for _, err := range errs {
		if err != nil {
			logger.Warn("Rule engine metrics not registered", "error", err)
			return nil
		}
	}

	return m
}

func (m *Metrics) recordFact(o Outcome) {
	if m != nil {
		m.factsTotal.WithLabelValues(o.String()).Inc()
	}
}

func (m *Metrics) recordFire(fired int, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.firedTotal.Add(float64(fired))
	m.fireDuration.Observe(d.Seconds())
	if failed {
		m.fireErrors.Inc()
	}
}

func (m *Metrics) setActiveRules(n int) {
	if m != nil {
		m.activeRules.Set(float64(n))
	}
}

func (m *Metrics) recordCompileFailure() {
	if m != nil {
		m.compileFailures.Inc()
	}
}

func (m *Metrics) recordTermination() {
	if m != nil {
		m.terminations.Inc()
	}
}

func (m *Metrics) recordCommand(outcome string) {
	if m != nil {
		m.commandsTotal.WithLabelValues(outcome).Inc()
	}
}
