// Package influx stores sensor states in InfluxDB for later analysis. It
// backs the persistence binding that rules use.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/sensor"
)

// DefaultMeasurement is the measurement written when none is configured.
const DefaultMeasurement = "sensor_state"

// Config holds the InfluxDB connection settings.
type Config struct {
	URL         string `json:"url"`
	Token       string `json:"token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// Enabled reports whether a server is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Validate checks the configuration of an enabled writer.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Token == "" || c.Org == "" || c.Bucket == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: influx needs token, org and bucket", errors.ErrInvalidConfig),
			"Config", "Validate", "check influx")
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: timeout %q", errors.ErrInvalidConfig, c.Timeout),
				"Config", "Validate", "parse timeout")
		}
	}
	return nil
}

// Persistence writes one point per stored state: tags sensor and kind,
// field value for numeric and switch states, field text for custom states.
type Persistence struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	metrics     *metric.Metrics
	logger      *slog.Logger
}

var _ rule.Persistence = (*Persistence)(nil)

// New connects a blocking writer to the configured bucket.
func New(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Persistence, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: influx url", errors.ErrMissingConfig), "influx", "New", "check url")
	}

	timeout := 10 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(timeout.Seconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	p := NewWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement, registry, logger)
	p.client = client
	return p, nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w api.WriteAPIBlocking, measurement string, registry *metric.MetricsRegistry, logger *slog.Logger) *Persistence {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persistence{
		writer:      w,
		measurement: measurement,
		logger:      logger.With("component", "influx"),
	}
	if registry != nil {
		p.metrics = registry.CoreMetrics()
	}
	return p
}

// Ping checks that the server is reachable.
func (p *Persistence) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	ok, err := p.client.Ping(ctx)
	if err != nil || !ok {
		if err == nil {
			err = errors.ErrHealthCheckFailed
		}
		return errors.WrapTransient(err, "Persistence", "Ping", "ping influx")
	}
	return nil
}

// Store writes st. Unknown states carry no value and are skipped.
func (p *Persistence) Store(ctx context.Context, st sensor.State) error {
	if st == nil || sensor.IsUnknown(st) {
		return nil
	}

	tags := map[string]string{
		"sensor": st.SourceName(),
		"kind":   st.Kind().String(),
		"id":     strconv.Itoa(st.SourceID()),
	}
	fields := map[string]interface{}{}
	switch s := st.(type) {
	case *sensor.SwitchState:
		fields["value"] = boolInt(s.IsOn())
		if s.Payload() != "" {
			fields["payload"] = s.Payload()
		}
	case *sensor.RangeState:
		fields["value"] = s.Int()
	case *sensor.LevelState:
		fields["value"] = s.Int()
	case *sensor.CustomState:
		fields["text"] = s.Text()
		if s.Mapped() {
			fields["original"] = s.Original()
		}
	default:
		fields["text"] = st.String()
	}

	ts := st.Timestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	point := influxdb2.NewPoint(p.measurement, tags, fields, ts)

	if err := p.writer.WritePoint(ctx, point); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("influx", errors.ErrorTransient.String())
		}
		p.logger.Warn("Sensor state not stored", "sensor", st.SourceName(), "error", err)
		return errors.WrapTransient(err, "Persistence", "Store", "write point")
	}
	return nil
}

// Close releases the client.
func (p *Persistence) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
