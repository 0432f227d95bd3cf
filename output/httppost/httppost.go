package httppost

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/pkg/retry"
	"github.com/c360/assetflow/processor/rule"
)

// DriverName is the command driver name handled by Driver.
const DriverName = "http"

// Config holds configuration for the HTTP command driver
type Config struct {
	// BaseURL resolves relative command targets. Absolute targets ignore it.
	BaseURL     string            `json:"base_url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`
	RetryCount  int               `json:"retry_count"`
	ContentType string            `json:"content_type,omitempty"`
}

// DefaultConfig returns default configuration for the HTTP command driver
func DefaultConfig() Config {
	return Config{
		Headers:     make(map[string]string),
		Timeout:     "10s",
		RetryCount:  3,
		ContentType: "application/json",
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: base_url %q", errors.ErrInvalidConfig, c.BaseURL),
				"Config", "Validate", "parse base url")
		}
	}

	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil || d <= 0 || d > 5*time.Minute {
			return errors.WrapInvalid(fmt.Errorf("%w: timeout must be between 0 and 5m", errors.ErrInvalidConfig),
				"Config", "Validate", "parse timeout")
		}
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(fmt.Errorf("%w: retry_count must be between 0 and 10", errors.ErrInvalidConfig),
			"Config", "Validate", "check retry count")
	}
	return nil
}

func (c Config) timeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Payload is the body posted for every command execution.
type Payload struct {
	Command   string    `json:"command"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Poster sends command payloads with HTTP POST.
type Poster struct {
	config     Config
	base       *url.URL
	httpClient *http.Client
	retry      retry.Config
	posted     *prometheus.CounterVec
	logger     *slog.Logger
}

// New creates a poster. tlsConfig secures https targets when set; registry
// may be nil.
func New(config Config, tlsConfig *tls.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Poster, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.ContentType == "" {
		config.ContentType = "application/json"
	}

	httpClient := &http.Client{Timeout: config.timeout()}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	p := &Poster{
		config:     config,
		httpClient: httpClient,
		retry: retry.Config{
			MaxAttempts:  config.RetryCount + 1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		logger: logger.With("component", "http-commands"),
	}
	if config.BaseURL != "" {
		p.base, _ = url.Parse(config.BaseURL)
	}

	if registry != nil {
		p.posted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http_commands",
			Name:      "posted_total",
			Help:      "Command payloads posted by result",
		}, []string{"result"})
		if err := registry.RegisterCounterVec("http_commands", "posted_total", p.posted); err != nil {
			p.logger.Warn("HTTP command metrics not registered", "error", err)
			p.posted = nil
		}
	}
	return p, nil
}

// Driver builds executables that post the command argument to the
// definition's target URL.
func (p *Poster) Driver() rule.DriverFunc {
	return func(def rule.CommandDefinition) (rule.Executable, error) {
		target, err := p.resolve(def.Target)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: command %q: %v", errors.ErrInvalidConfig, def.Name, err),
				"Poster", "Driver", "build "+def.Name)
		}
		return rule.ExecutableFunc(func(ctx context.Context, arg string) error {
			return p.Post(ctx, target, Payload{Command: def.Name, Value: arg, Timestamp: time.Now().UTC()})
		}), nil
	}
}

func (p *Poster) resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("no target url")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if p.base == nil {
		return "", fmt.Errorf("relative target %q without base_url", target)
	}
	return p.base.JoinPath(strings.TrimPrefix(u.Path, "/")).String(), nil
}

// Post sends payload to target, retrying network errors and 5xx responses.
func (p *Poster) Post(ctx context.Context, target string, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "Poster", "Post", "encode payload")
	}

	err = retry.Transient(ctx, p.retry, func() error {
		return p.send(ctx, target, data)
	})
	p.record(err)
	if err != nil {
		p.logger.Warn("Command post failed", "command", payload.Command, "url", target, "error", err)
		return err
	}
	p.logger.Debug("Command posted", "command", payload.Command, "url", target)
	return nil
}

// send sends a single HTTP POST request
func (p *Poster) send(ctx context.Context, target string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Poster", "send", "build request")
	}

	req.Header.Set("Content-Type", p.config.ContentType)
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Poster", "send", "post "+target)
	}
	defer resp.Body.Close()

	// Drain to reuse the connection
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errors.WrapTransient(fmt.Errorf("HTTP %d", resp.StatusCode), "Poster", "send", "post "+target)
	default:
		return errors.WrapInvalid(fmt.Errorf("HTTP %d", resp.StatusCode), "Poster", "send", "post "+target)
	}
}

func (p *Poster) record(err error) {
	if p.posted == nil {
		return
	}
	if err != nil {
		p.posted.WithLabelValues("error").Inc()
		return
	}
	p.posted.WithLabelValues("success").Inc()
}
