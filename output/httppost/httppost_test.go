package httppost

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/processor/rule"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPoster(t *testing.T, cfg Config, registry *metric.MetricsRegistry) *Poster {
	t.Helper()
	p, err := New(cfg, nil, registry, discardLogger())
	require.NoError(t, err)
	return p
}

func TestDriver_PostsCommand(t *testing.T) {
	var got Payload
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/hooks/siren", r.URL.Path)
		header = r.Header.Get("X-Site")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/hooks"
	cfg.Headers["X-Site"] = "plant-7"
	registry := metric.NewMetricsRegistry()
	p := newPoster(t, cfg, registry)

	commands := rule.NewCommandRegistry()
	commands.RegisterDriver(DriverName, p.Driver())
	require.NoError(t, commands.Define(rule.CommandDefinition{Name: "siren", Driver: DriverName, Target: "siren"}))

	def, _ := commands.Lookup("siren")
	exe, err := commands.Build(def)
	require.NoError(t, err)
	require.NoError(t, exe.Execute(context.Background(), "on"))

	assert.Equal(t, "siren", got.Command)
	assert.Equal(t, "on", got.Value)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "plant-7", header)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.posted.WithLabelValues("success")))
}

func TestDriver_TargetResolution(t *testing.T) {
	withBase := newPoster(t, Config{BaseURL: "http://hooks.local/api/"}, nil)
	withoutBase := newPoster(t, Config{}, nil)

	tests := []struct {
		name    string
		p       *Poster
		target  string
		want    string
		wantErr bool
	}{
		{"relative joined to base", withBase, "lights/off", "http://hooks.local/api/lights/off", false},
		{"leading slash stays under base", withBase, "/lights", "http://hooks.local/api/lights", false},
		{"absolute ignores base", withBase, "https://other/x", "https://other/x", false},
		{"absolute without base", withoutBase, "http://a/b", "http://a/b", false},
		{"relative without base", withoutBase, "lights", "", true},
		{"empty target", withBase, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.resolve(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := withoutBase.Driver()(rule.CommandDefinition{Name: "x", Target: "relative"})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newPoster(t, Config{RetryCount: 3}, nil)
	require.NoError(t, p.Post(context.Background(), srv.URL, Payload{Command: "c"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPost_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	registry := metric.NewMetricsRegistry()
	p := newPoster(t, Config{RetryCount: 3}, registry)
	err := p.Post(context.Background(), srv.URL, Payload{Command: "c"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.posted.WithLabelValues("error")))
}

func TestPost_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newPoster(t, Config{RetryCount: 1}, nil)
	err := p.Post(context.Background(), srv.URL, Payload{Command: "c"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base", func(c *Config) { c.BaseURL = "hooks" }},
		{"bad timeout", func(c *Config) { c.Timeout = "forever" }},
		{"timeout too long", func(c *Config) { c.Timeout = "1h" }},
		{"negative retries", func(c *Config) { c.RetryCount = -1 }},
		{"too many retries", func(c *Config) { c.RetryCount = 11 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)
		})
	}
}
