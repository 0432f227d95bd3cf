package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every assetflow metric.
const Namespace = "assetflow"

// Metrics contains process-wide metrics shared by all components. Component
// specific metrics (rule engine, weather protocol, worker pools) register
// themselves through MetricsRegistrar.
type Metrics struct {
	ServiceStatus      *prometheus.GaugeVec
	ProtocolStatus     *prometheus.GaugeVec
	AttributeUpdates   *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metric set
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		ProtocolStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "protocol",
				Name:      "status",
				Help:      "Protocol connection status (0=disconnected, 1=connecting, 2=connected, 3=error)",
			},
			[]string{"protocol"},
		),

		AttributeUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "attribute",
				Name:      "updates_total",
				Help:      "Attribute updates by outcome (committed, terminated, dropped)",
			},
			[]string{"outcome"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of attribute events published",
			},
			[]string{"status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Attribute update processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.ServiceStatus,
		c.ProtocolStatus,
		c.AttributeUpdates,
		c.EventsPublished,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSReconnects,
	)
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordProtocolStatus updates the connection status gauge of a protocol instance
func (c *Metrics) RecordProtocolStatus(protocol string, status int) {
	c.ProtocolStatus.WithLabelValues(protocol).Set(float64(status))
}

// RecordAttributeUpdate counts an attribute update by outcome
func (c *Metrics) RecordAttributeUpdate(outcome string) {
	c.AttributeUpdates.WithLabelValues(outcome).Inc()
}

// RecordEventPublished counts a published attribute event
func (c *Metrics) RecordEventPublished(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.EventsPublished.WithLabelValues(status).Inc()
}

// RecordProcessingDuration records processing time for a pipeline stage
func (c *Metrics) RecordProcessingDuration(stage string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(component).Set(boolGauge(healthy))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolGauge(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
