package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/errors"
)

// BreakerConfig enables a circuit breaker around API calls.
type BreakerConfig struct {
	Enabled bool `json:"enabled"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	// OpenTimeout is how long the breaker stays open, e.g. "30s".
	OpenTimeout string `json:"open_timeout"`
}

// RateLimitConfig paces API calls. One poll cycle makes one call per
// location, so a large site can exceed the provider's quota without it.
type RateLimitConfig struct {
	// CallsPerMinute is the sustained rate. Zero or negative disables
	// limiting; the config loader replaces zero with the default.
	CallsPerMinute int `json:"calls_per_minute"`
	Burst          int `json:"burst"`
}

func (r RateLimitConfig) limiter() *rate.Limiter {
	if r.CallsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.CallsPerMinute)), burst)
}

// Client calls the weather API. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	units   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a client for baseURL.
func NewClient(baseURL, apiKey, units string, timeout time.Duration, breaker BreakerConfig,
	limit RateLimitConfig, logger *slog.Logger) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: base url %q", errors.ErrInvalidConfig, baseURL),
			"Client", "NewClient", "parse base url")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		units:   units,
		http:    &http.Client{Timeout: timeout},
		limiter: limit.limiter(),
		logger:  logger,
	}

	if breaker.Enabled {
		openTimeout, err := time.ParseDuration(breaker.OpenTimeout)
		if err != nil {
			openTimeout = 30 * time.Second
		}
		fails := breaker.ConsecutiveFailures
		if fails == 0 {
			fails = 3
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather-api",
			Timeout: openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= fails
			},
			// A call cut short by Stop says nothing about the API.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c, nil
}

// Current fetches the weather at p.
func (c *Client) Current(ctx context.Context, p asset.GeoPoint) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.WrapTransient(err, "Client", "Current", "wait for rate limit")
	}
	if c.breaker == nil {
		return c.get(ctx, p)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.get(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrCircuitOpen, err), "Client", "Current", "call weather api")
	}
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

// Ping performs one call and reports whether the API answered with 2xx.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.get(ctx, asset.GeoPoint{}); err != nil {
		return errors.Wrap(fmt.Errorf("%w: %v", errors.ErrHealthCheckFailed, err), "Client", "Ping", "probe weather api")
	}
	return nil
}

func (c *Client) get(ctx context.Context, p asset.GeoPoint) (*Response, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', -1, 64))
	q.Set("exclude", "minutely,hourly,daily,alerts")
	q.Set("appid", c.apiKey)
	if c.units != "" {
		q.Set("units", c.units)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "get", "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "get", "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errors.WrapTransient(fmt.Errorf("%w: HTTP %d", errors.ErrUnexpectedStatus, resp.StatusCode),
			"Client", "get", "check status")
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Client", "get", "decode response")
	}
	return &out, nil
}
