// Package metric provides Prometheus metrics collection and the HTTP server
// exposing /metrics and /health.
//
// MetricsRegistry owns a private Prometheus registry holding the core metrics
// (service and protocol status, attribute update outcomes, published events,
// NATS connectivity) plus the Go runtime collectors. Components register their
// own collectors through MetricsRegistrar:
//
//	registry := metric.NewMetricsRegistry()
//	fired := prometheus.NewCounter(prometheus.CounterOpts{Name: "assetflow_rule_fired_total"})
//	_ = registry.RegisterCounter("rule-engine", "fired_total", fired)
//
//	server := metric.NewServer(":9090", "/metrics", registry, monitor.Report)
//	go server.Start()
//	defer server.Stop(ctx)
package metric
