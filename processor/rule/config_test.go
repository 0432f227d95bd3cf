package rule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero sizing uses pool defaults", func(c *Config) { c.DispatchWorkers, c.DispatchQueueSize = 0, 0 }, false},
		{"negative workers", func(c *Config) { c.DispatchWorkers = -1 }, true},
		{"bad stop timeout", func(c *Config) { c.StopTimeout = "soon" }, true},
		{"inline rule with extension", func(c *Config) { c.InlineRules = map[string]string{"x.yaml": ""} }, false},
		{"inline rule without extension", func(c *Config) { c.InlineRules = map[string]string{"x": ""} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_StopTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopTimeout = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.stopTimeout())

	cfg.StopTimeout = ""
	assert.Equal(t, 5*time.Second, cfg.stopTimeout())
}

func TestConfig_Sources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("rules: []"), 0o600))

	cfg := DefaultConfig()
	cfg.RulesFiles = []string{dir}
	cfg.InlineRules = map[string]string{
		"z.json": `{"rules": []}`,
		"b.yml":  "rules: []",
	}

	sources, err := cfg.Sources(nil).Resources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, filepath.Join(dir, "a.yaml"), sources[0].Path)
	assert.Equal(t, "b.yml", sources[1].Path)
	assert.Equal(t, "z.json", sources[2].Path)
}
