package mqtt

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetflow/metric"
)

type inputMetrics struct {
	received  prometheus.Counter
	updates   prometheus.Counter
	published *prometheus.CounterVec
}

// newInputMetrics returns nil when registry is nil or registration fails.
func newInputMetrics(registry *metric.MetricsRegistry, id string, logger *slog.Logger) *inputMetrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"protocol": id}
	m := &inputMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "mqtt",
			Name:        "messages_received_total",
			Help:        "Messages received on bound topics",
			ConstLabels: labels,
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "mqtt",
			Name:        "attribute_updates_total",
			Help:        "Attribute values written to the update sink",
			ConstLabels: labels,
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "mqtt",
			Name:        "commands_published_total",
			Help:        "Command payloads published by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}

	service := "mqtt_" + id
	for _, err := range []error{
		registry.RegisterCounter(service, "messages_received_total", m.received),
		registry.RegisterCounter(service, "attribute_updates_total", m.updates),
		registry.RegisterCounterVec(service, "commands_published_total", m.published),
	} {
		if err != nil {
			logger.Warn("MQTT metrics not registered", "error", err)
			return nil
		}
	}
	return m
}

func (m *inputMetrics) recordMessage(updates int) {
	if m != nil {
		m.received.Inc()
		m.updates.Add(float64(updates))
	}
}

func (m *inputMetrics) recordPublish(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(result).Inc()
}
