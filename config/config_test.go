package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
)

const siteJSON = `{
  "version": "1.2.0",
  "platform": {"id": "plant-7"},
  "sensors": [
    {"id": 1, "name": "X", "kind": "switch"},
    {"id": 2, "name": "Y", "kind": "switch"},
    {"id": 3, "name": "outside_temp", "kind": "range", "min": -40, "max": 60},
    {"id": 4, "name": "mode", "kind": "custom", "states": ["eco", "boost"], "strict": true}
  ],
  "assets": [
    {"id": "hall", "name": "Hall", "location": {"lat": 52.1, "lon": 4.3},
     "attributes": {
       "switch_x": {"sensor": "X", "link": {"protocol_id": "plc", "topic": "hall/x"}},
       "light_y": {"sensor": "Y"},
       "temperature": {"sensor": "outside_temp", "link": {"protocol_id": "owm", "field": "temperature"}}
     }}
  ],
  "commands": [
    {"name": "siren", "driver": "mqtt", "target": "hall/siren/set"},
    {"name": "audit", "driver": "log"}
  ],
  "weather": [{"id": "owm", "api_key": "secret-key"}],
  "mqtt": [{"id": "plc", "broker": "tcp://broker:1883", "qos": 1}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func noEnv(string) string { return "" }

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = noEnv
	if env != nil {
		l.getenv = func(k string) string { return env[k] }
	}
	return l
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := newTestLoader(nil).LoadFile(writeFile(t, "site.json", siteJSON))
	require.NoError(t, err)
	return cfg
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.NATS.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
}

func TestLoadFile_JSON(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "plant-7", cfg.Platform.ID)
	require.Len(t, cfg.Sensors, 4)
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, 52.1, cfg.Assets[0].Location.Lat)

	// Defaults survive untouched sections and fill protocol instances
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, 1024, cfg.Pipeline.QueueSize)
	assert.Equal(t, "10m", cfg.Weather[0].PollInterval)
	assert.Equal(t, 60, cfg.Weather[0].RateLimit.CallsPerMinute)
	assert.Equal(t, "plant-7-plc", cfg.MQTT[0].ClientID)
	assert.Equal(t, 5, cfg.MQTT[0].ConnectRetries)
}

func TestLoad_LayersMerge(t *testing.T) {
	base := writeFile(t, "base.json", siteJSON)
	override := writeFile(t, "site.yaml", `
metrics:
  addr: ":9191"
nats:
  enabled: true
  urls: ["nats://a:4222", "nats://b:4222"]
`)
	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "sibling keys are kept")
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.NATS.URL())
	assert.Equal(t, "plant-7", cfg.Platform.ID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "site.json", `{"weather": [{"id": "owm"}]}`)
	cfg, err := newTestLoader(map[string]string{
		"ASSETFLOW_PLATFORM_ID":     "edge-1",
		"ASSETFLOW_NATS_URLS":       "nats://events:4222",
		"ASSETFLOW_WEATHER_API_KEY": "from-env",
		"ASSETFLOW_INFLUX_URL":      "http://influx:8086",
		"ASSETFLOW_INFLUX_TOKEN":    "t",
		"ASSETFLOW_INFLUX_ORG":      "o",
		"ASSETFLOW_INFLUX_BUCKET":   "b",
	}).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.Platform.ID)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://events:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "from-env", cfg.Weather[0].APIKey)
	assert.True(t, cfg.Influx.Enabled())
}

func TestLoad_EnvNullByteRejected(t *testing.T) {
	path := writeFile(t, "site.json", `{}`)
	_, err := newTestLoader(map[string]string{"ASSETFLOW_NATS_TOKEN": "a\x00b"}).LoadFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"malformed json", "bad.json", `{"platform": `},
		{"wrong type", "bad.json", `{"sensors": "none"}`},
		{"bad yaml", "bad.yaml", "platform: [unclosed"},
		{"unsupported extension", "site.toml", `platform = {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil).LoadFile(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate_CrossReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty platform id", func(c *Config) { c.Platform.ID = "" }},
		{"platform id with spaces", func(c *Config) { c.Platform.ID = "plant 7" }},
		{"bad version", func(c *Config) { c.Version = "1.2" }},
		{"nats without urls", func(c *Config) { c.NATS.Enabled = true; c.NATS.URLs = nil }},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }},
		{"negative queue", func(c *Config) { c.Pipeline.QueueSize = -1 }},
		{"duplicate protocol id", func(c *Config) { c.MQTT[0].ID = "owm" }},
		{"unknown sensor kind", func(c *Config) { c.Sensors[0].Kind = "dial" }},
		{"duplicate sensor name", func(c *Config) { c.Sensors[1].Name = "X" }},
		{"unknown attribute sensor", func(c *Config) { c.Assets[0].Attributes["light_y"].Sensor = "Z" }},
		{"sensor bound twice", func(c *Config) { c.Assets[0].Attributes["light_y"].Sensor = "X" }},
		{"unknown protocol", func(c *Config) { c.Assets[0].Attributes["switch_x"].Link.ProtocolID = "modbus" }},
		{"mqtt link without topic", func(c *Config) { c.Assets[0].Attributes["switch_x"].Link.Topic = "" }},
		{"unknown weather field", func(c *Config) { c.Assets[0].Attributes["temperature"].Link.Field = "snow" }},
		{"weather without location", func(c *Config) { c.Assets[0].Location = nil }},
		{"duplicate asset", func(c *Config) { c.Assets = append(c.Assets, c.Assets[0]) }},
		{"duplicate command", func(c *Config) { c.Commands = append(c.Commands, c.Commands[0]) }},
		{"unknown driver", func(c *Config) { c.Commands[0].Driver = "modbus" }},
		{"incomplete influx", func(c *Config) { c.Influx.URL = "http://influx:8086" }},
		{"server tls without cert", func(c *Config) { c.Security.TLS.Server.Enabled = true }},
		{"bad tls version", func(c *Config) { c.Security.TLS.Client.MinVersion = "1.1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), err.Error())
		})
	}
}

func TestValidate_ReadOnlyCommandNeedsNoDriver(t *testing.T) {
	cfg := validConfig(t)
	cfg.Commands[0].Driver = "modbus"
	cfg.Commands[0].ReadOnly = true
	assert.NoError(t, cfg.Validate())
}

func TestCommandDrivers(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, map[string]bool{"log": true, "http": true, "mqtt": true, "plc": true}, cfg.CommandDrivers())

	cfg.MQTT = append(cfg.MQTT, cfg.MQTT[0])
	cfg.MQTT[1].ID = "plc2"
	drivers := cfg.CommandDrivers()
	assert.False(t, drivers["mqtt"], "ambiguous with two instances")
	assert.True(t, drivers["plc2"])
}

func TestValidate_HTTPCommands(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, 3, cfg.HTTPCommands.RetryCount, "defaults apply")

	cfg.HTTPCommands.BaseURL = "not a url"
	assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)

	cfg = validConfig(t)
	cfg.MQTT[0].ID = "http"
	cfg.Assets[0].Attributes["switch_x"].Link.ProtocolID = "http"
	assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig, "reserved driver name")
}

func TestString_MasksHeaders(t *testing.T) {
	cfg := validConfig(t)
	cfg.HTTPCommands.Headers = map[string]string{"Authorization": "Bearer abc"}
	out := cfg.String()
	assert.NotContains(t, out, "Bearer abc")
	assert.NotContains(t, out, "secret-key")
	assert.Equal(t, "Bearer abc", cfg.HTTPCommands.Headers["Authorization"], "original untouched")
}

func TestBuildRegistries(t *testing.T) {
	cfg := validConfig(t)

	sensors, err := cfg.BuildSensors(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sensors.Len())

	assets, err := cfg.BuildAssets(nil)
	require.NoError(t, err)
	ref, ok := assets.BoundAttribute("Y")
	require.True(t, ok)
	assert.Equal(t, "light_y", ref.Name)
	assert.Len(t, assets.LinkedAttributes("owm"), 1)

	commands, err := cfg.BuildCommands()
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "siren"}, commands.Names())
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := validConfig(t)
	cfg.NATS.Password = "hunter2"
	out := cfg.String()

	assert.NotContains(t, out, "secret-key")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "plant-7")
	assert.Equal(t, "secret-key", cfg.Weather[0].APIKey, "original untouched")
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig(t))

	got := sc.Get()
	got.Platform.ID = "changed"
	assert.Equal(t, "plant-7", sc.Get().Platform.ID, "Get returns a copy")

	bad := validConfig(t)
	bad.Platform.ID = ""
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	next := validConfig(t)
	next.Platform.ID = "plant-8"
	require.NoError(t, sc.Update(next))
	assert.Equal(t, "plant-8", sc.Get().Platform.ID)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := validConfig(t)
	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Platform, loaded.Platform)
	assert.Equal(t, cfg.Sensors, loaded.Sensors)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.2.0", "1.10.0", -1},
		{"2.0.0", "1.99.99", 1},
		{"1.0.1", "1.0.0", 1},
	}
	for _, tt := range tests {
		got, err := CompareVersions(tt.v1, tt.v2)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.v1+" vs "+tt.v2)
	}

	_, err := CompareVersions("1.0", "1.0.0")
	assert.Error(t, err)
	_, err = CompareVersions("1.0.0", "a.b.c")
	assert.Error(t, err)
}
