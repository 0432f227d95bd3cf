package weather

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/pkg/scheduler"
	"github.com/c360/assetflow/protocol"
)

// Config holds configuration for one weather protocol instance.
type Config struct {
	ID           string          `json:"id"`
	APIKey       string          `json:"api_key"`
	BaseURL      string          `json:"base_url"`
	Units        string          `json:"units,omitempty"`
	PollInterval string          `json:"poll_interval"`
	Timeout      string          `json:"timeout"`
	Breaker      BreakerConfig   `json:"breaker"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
}

// DefaultConfig returns the defaults for an instance named "weather".
func DefaultConfig() Config {
	return Config{
		ID:           "weather",
		BaseURL:      "https://api.openweathermap.org/data/3.0/onecall",
		Units:        "metric",
		PollInterval: "10m",
		Timeout:      "30s",
		RateLimit:    RateLimitConfig{CallsPerMinute: 60, Burst: 10},
	}
}

// Validate checks the configuration. A missing API key is not a
// configuration error here; Start reports it through the status.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: id is required", errors.ErrInvalidConfig), "Config", "Validate", "check id")
	}
	if c.BaseURL == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: base_url is required", errors.ErrInvalidConfig), "Config", "Validate", "check base url")
	}
	if c.RateLimit.Burst < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: rate_limit.burst must not be negative", errors.ErrInvalidConfig), "Config", "Validate", "check rate limit")
	}
	for name, v := range map[string]string{"poll_interval": c.PollInterval, "timeout": c.Timeout} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s %q", errors.ErrInvalidConfig, name, v), "Config", "Validate", "parse "+name)
		}
	}
	return nil
}

func (c Config) duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Dependencies holds the collaborators of a Protocol.
type Dependencies struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Scheduler       *scheduler.Scheduler
	Assets          protocol.AssetLookup
	Links           protocol.LinkedAttributeEnumerator
	Sink            protocol.AttributeUpdateSink
}

// Protocol polls current weather for every linked attribute, one call per
// distinct asset location.
type Protocol struct {
	config  Config
	deps    Dependencies
	client  *Client
	status  *protocol.StatusHolder
	metrics *pollMetrics
	logger  *slog.Logger

	mu   sync.Mutex
	task *scheduler.Task
}

var _ protocol.Protocol = (*Protocol)(nil)

// New creates a stopped protocol instance.
func New(config Config, deps Dependencies) (*Protocol, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Scheduler == nil || deps.Links == nil || deps.Assets == nil || deps.Sink == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: scheduler, assets, links and sink are required", errors.ErrMissingConfig),
			"Protocol", "New", "check dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "weather", "protocol", config.ID)

	client, err := NewClient(config.BaseURL, config.APIKey, config.Units,
		config.duration(config.Timeout, 30*time.Second), config.Breaker, config.RateLimit, logger)
	if err != nil {
		return nil, err
	}

	p := &Protocol{
		config:  config,
		deps:    deps,
		client:  client,
		status:  protocol.NewStatusHolder(),
		metrics: newPollMetrics(deps.MetricsRegistry, config.ID, logger),
		logger:  logger,
	}

	p.status.OnChange(func(from, to protocol.Status, reason string) {
		p.logger.Info("Protocol status changed", "from", from.String(), "to", to.String(), "reason", reason)
		if deps.MetricsRegistry != nil {
			deps.MetricsRegistry.CoreMetrics().RecordProtocolStatus(config.ID, int(to))
		}
	})
	return p, nil
}

// ID returns the protocol instance id.
func (p *Protocol) ID() string { return p.config.ID }

// Status returns the connection status.
func (p *Protocol) Status() protocol.Status { return p.status.Get() }

// StatusHolder exposes the holder for listeners.
func (p *Protocol) StatusHolder() *protocol.StatusHolder { return p.status }

// Start validates the credential, probes the API once and schedules the
// poll. A missing credential or a failed probe leaves the status at Error
// and is not retried.
func (p *Protocol) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.task != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Protocol", "Start", "check state")
	}
	p.status.Set(protocol.StatusConnecting, "starting")

	if p.config.APIKey == "" {
		p.status.Set(protocol.StatusError, "missing api key")
		return errors.WrapFatal(errors.ErrMissingCredential, "Protocol", "Start", "check api key")
	}

	if err := p.client.Ping(ctx); err != nil {
		p.status.Set(protocol.StatusError, "health check failed")
		p.logger.Error("Weather API health check failed", "error", err)
		return errors.Wrap(err, "Protocol", "Start", "health check")
	}

	interval := p.config.duration(p.config.PollInterval, 10*time.Minute)
	task, err := p.deps.Scheduler.ScheduleAtFixedRate("weather:"+p.config.ID, 0, interval, p.poll)
	if err != nil {
		p.status.Set(protocol.StatusError, "schedule failed")
		return errors.Wrap(err, "Protocol", "Start", "schedule poll")
	}
	p.task = task

	p.status.Set(protocol.StatusConnected, "health check passed")
	p.logger.Info("Weather protocol started", "interval", interval)
	return nil
}

// Stop cancels the poll task, interrupting an in-flight cycle, and waits for
// that cycle to return. No attribute is written after Stop returns unless ctx
// expires first.
func (p *Protocol) Stop(ctx context.Context) error {
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.mu.Unlock()

	if task != nil {
		task.Cancel()
		select {
		case <-task.Done():
		case <-ctx.Done():
			p.logger.Warn("Timed out waiting for poll task to exit")
		}
	}
	p.status.Set(protocol.StatusDisconnected, "stopped")
	return nil
}

// poll runs one cycle. A failing group marks the status Error and the cycle
// moves on to the next group.
func (p *Protocol) poll(ctx context.Context) {
	start := time.Now()
	defer func() { p.metrics.recordCycle(time.Since(start)) }()

	linked := p.deps.Links.LinkedAttributes(p.config.ID)
	if len(linked) == 0 {
		p.logger.Debug("No linked attributes")
		return
	}

	groups := protocol.Group(ctx, linked, protocol.ByLocation(p.deps.Assets), p.logger)
	p.metrics.recordSkip("unresolved", len(linked)-groups.Refs())

	for _, key := range groups.Keys() {
		if ctx.Err() != nil {
			p.logger.Debug("Poll cycle interrupted", "remaining_from", key)
			return
		}
		grp := groups[key]

		resp, err := p.client.Current(ctx, grp.Determinant)
		p.metrics.recordCall(err != nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.status.Set(protocol.StatusError, "call failed for "+key)
			p.logger.Error("Weather call failed", "group", key, "attributes", len(grp.Refs), "error", err)
			continue
		}
		p.status.CompareAndSet(protocol.StatusError, protocol.StatusConnected, "call succeeded for "+key)

		p.demux(ctx, grp, linked, resp)
	}
}

func (p *Protocol) demux(ctx context.Context, grp *protocol.Grouping[asset.GeoPoint],
	linked map[asset.AttributeRef]asset.Attribute, resp *Response) {
	for _, ref := range grp.Refs {
		if ctx.Err() != nil {
			return
		}
		attr := linked[ref]
		if attr.Link == nil || attr.Link.Field == "" {
			p.logger.Warn("Linked attribute has no field selector", "attribute", ref.String(), "group", grp.Key)
			p.metrics.recordSkip("no_field", 1)
			continue
		}

		value := Extract(resp.Current, Field(attr.Link.Field))
		if value == nil {
			p.logger.Warn("No value for field", "attribute", ref.String(), "field", attr.Link.Field, "group", grp.Key)
			p.metrics.recordSkip("no_value", 1)
			continue
		}

		p.deps.Sink.UpdateAttribute(ctx, ref, value)
		p.metrics.recordUpdate()
	}
}
