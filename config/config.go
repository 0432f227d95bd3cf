package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/input/mqtt"
	"github.com/c360/assetflow/output/httppost"
	"github.com/c360/assetflow/output/influx"
	"github.com/c360/assetflow/pipeline"
	"github.com/c360/assetflow/pkg/security"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/protocol/weather"
	"github.com/c360/assetflow/sensor"
)

// Config represents the complete application configuration
type Config struct {
	Version   string          `json:"version,omitempty"` // Semantic version of the configuration document
	Platform  PlatformConfig  `json:"platform"`
	Security  security.Config `json:"security,omitempty"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pipeline  pipeline.Config `json:"pipeline"`
	Rules     rule.Config     `json:"rules"`

	Sensors  []sensor.Definition      `json:"sensors,omitempty"`
	Assets   []*asset.Asset           `json:"assets,omitempty"`
	Commands []rule.CommandDefinition `json:"commands,omitempty"`

	// Protocol instances; ids are unique across all kinds.
	Weather []weather.Config `json:"weather,omitempty"`
	MQTT    []mqtt.Config    `json:"mqtt,omitempty"`

	Influx influx.Config `json:"influx,omitempty"`
	// HTTPCommands configures the "http" command driver.
	HTTPCommands httppost.Config `json:"http_commands"`
}

// PlatformConfig identifies this process
type PlatformConfig struct {
	ID          string `json:"id"`                    // Used as NATS client name and MQTT client id prefix
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings for attribute events
type NATSConfig struct {
	Enabled       bool     `json:"enabled"`
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait string   `json:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// URL joins the configured server URLs the way nats.Connect expects.
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// ReconnectWaitDuration returns the parsed reconnect wait, or 2s.
func (n NATSConfig) ReconnectWaitDuration() time.Duration {
	d, err := time.ParseDuration(n.ReconnectWait)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// MetricsConfig configures the /metrics and /health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig sizes the shared polling pool
type SchedulerConfig struct {
	Workers int `json:"workers"`
}

// Default returns the configuration used as the base layer.
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{ID: "assetflow"},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: "2s",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Scheduler: SchedulerConfig{Workers: 4},
		Pipeline: pipeline.Config{
			QueueSize:        1024,
			PublishQueueSize: 1024,
		},
		Rules:        rule.DefaultConfig(),
		HTTPCommands: httppost.DefaultConfig(),
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// applyInstanceDefaults fills unset per-instance settings. Protocol lists
// replace the base layer wholesale, so their defaults are applied here
// rather than through merging.
func (c *Config) applyInstanceDefaults() {
	wd := weather.DefaultConfig()
	for i := range c.Weather {
		w := &c.Weather[i]
		if w.BaseURL == "" {
			w.BaseURL = wd.BaseURL
		}
		if w.Units == "" {
			w.Units = wd.Units
		}
		if w.PollInterval == "" {
			w.PollInterval = wd.PollInterval
		}
		if w.Timeout == "" {
			w.Timeout = wd.Timeout
		}
		if w.RateLimit.CallsPerMinute == 0 {
			w.RateLimit = wd.RateLimit
		}
	}

	md := mqtt.DefaultConfig()
	for i := range c.MQTT {
		m := &c.MQTT[i]
		if m.ClientID == "" {
			m.ClientID = c.Platform.ID + "-" + m.ID
		}
		if m.ConnectTimeout == "" {
			m.ConnectTimeout = md.ConnectTimeout
		}
		if m.ConnectRetries == 0 {
			m.ConnectRetries = md.ConnectRetries
		}
		if m.ConnectMaxElapsed == "" {
			m.ConnectMaxElapsed = md.ConnectMaxElapsed
		}
	}
}

func invalid(method, format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", method, "validate configuration")
}

// Validate checks the whole document, including cross references between
// assets, sensors, protocol instances and commands.
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return invalid("Validate", "platform.id is required")
	}
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return invalid("Validate", "platform.id %q must be alphanumeric with dots, dashes, underscores", c.Platform.ID)
	}
	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			return invalid("Validate", "version: %v", err)
		}
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("Validate", "nats.urls is required when nats is enabled")
		}
		if c.NATS.ReconnectWait != "" {
			if _, err := time.ParseDuration(c.NATS.ReconnectWait); err != nil {
				return invalid("Validate", "nats.reconnect_wait: %v", err)
			}
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("Validate", "metrics.addr is required when metrics are enabled")
	}
	if c.Scheduler.Workers < 0 {
		return invalid("Validate", "scheduler.workers must not be negative")
	}
	if c.Pipeline.QueueSize < 0 || c.Pipeline.PublishQueueSize < 0 {
		return invalid("Validate", "pipeline queue sizes must not be negative")
	}
	if err := c.Rules.Validate(); err != nil {
		return err
	}
	if err := c.Influx.Validate(); err != nil {
		return err
	}
	if err := c.HTTPCommands.Validate(); err != nil {
		return err
	}

	protocols, err := c.validateProtocols()
	if err != nil {
		return err
	}
	sensors, err := c.validateSensors()
	if err != nil {
		return err
	}
	if err := c.validateAssets(protocols, sensors); err != nil {
		return err
	}
	return c.validateCommands()
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled && (server.CertFile == "" || server.KeyFile == "") {
		return invalid("validateSecurity", "tls.server needs cert_file and key_file")
	}
	for name, v := range map[string]string{
		"tls.server.min_version": server.MinVersion,
		"tls.client.min_version": c.Security.TLS.Client.MinVersion,
	} {
		if err := validateTLSVersion(v); err != nil {
			return invalid("validateSecurity", "%s: %v", name, err)
		}
	}
	mtls := c.Security.TLS.Client.MTLS
	if mtls.Enabled && (mtls.CertFile == "" || mtls.KeyFile == "") {
		return invalid("validateSecurity", "tls.client.mtls needs cert_file and key_file")
	}
	return nil
}

func validateTLSVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// validateProtocols returns the kind of every protocol instance by id.
func (c *Config) validateProtocols() (map[string]string, error) {
	kinds := make(map[string]string)
	add := func(id, kind string) error {
		if prev, dup := kinds[id]; dup {
			return invalid("validateProtocols", "protocol id %q used by %s and %s", id, prev, kind)
		}
		kinds[id] = kind
		return nil
	}
	for _, w := range c.Weather {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		if err := add(w.ID, "weather"); err != nil {
			return nil, err
		}
	}
	for _, m := range c.MQTT {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		// Instance ids double as command driver names
		if m.ID == "log" || m.ID == httppost.DriverName {
			return nil, invalid("validateProtocols", "mqtt id %q is a reserved driver name", m.ID)
		}
		if err := add(m.ID, "mqtt"); err != nil {
			return nil, err
		}
	}
	return kinds, nil
}

func (c *Config) validateSensors() (map[string]bool, error) {
	reg, err := c.BuildSensors(nil)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, reg.Len())
	for _, s := range reg.All() {
		names[s.Name()] = true
	}
	return names, nil
}

func (c *Config) validateAssets(protocols map[string]string, sensors map[string]bool) error {
	ids := make(map[string]bool, len(c.Assets))
	bound := make(map[string]string)
	for _, a := range c.Assets {
		if a == nil {
			return invalid("validateAssets", "asset entry is null")
		}
		if err := a.Validate(); err != nil {
			return invalid("validateAssets", "%v", err)
		}
		if ids[a.ID] {
			return invalid("validateAssets", "duplicate asset id %q", a.ID)
		}
		ids[a.ID] = true

		for name, attr := range a.Attributes {
			ref := asset.AttributeRef{AssetID: a.ID, Name: name}
			if attr.Sensor != "" {
				if !sensors[attr.Sensor] {
					return invalid("validateAssets", "%s: unknown sensor %q", ref, attr.Sensor)
				}
				if prev, dup := bound[attr.Sensor]; dup {
					return invalid("validateAssets", "sensor %q bound to %s and %s", attr.Sensor, prev, ref)
				}
				bound[attr.Sensor] = ref.String()
			}
			if attr.Link == nil {
				continue
			}
			switch protocols[attr.Link.ProtocolID] {
			case "weather":
				if a.Location == nil {
					return invalid("validateAssets", "%s: weather link needs an asset location", ref)
				}
				if _, err := weather.ParseField(attr.Link.Field); err != nil {
					return invalid("validateAssets", "%s: %v", ref, err)
				}
			case "mqtt":
				if attr.Link.Topic == "" {
					return invalid("validateAssets", "%s: mqtt link needs a topic", ref)
				}
			default:
				return invalid("validateAssets", "%s: unknown protocol %q", ref, attr.Link.ProtocolID)
			}
		}
	}
	return nil
}

// CommandDrivers lists the driver names commands may use: "log", "http",
// "mqtt" when exactly one MQTT instance exists, and every MQTT instance id.
func (c *Config) CommandDrivers() map[string]bool {
	drivers := map[string]bool{"log": true, httppost.DriverName: true}
	if len(c.MQTT) == 1 {
		drivers[mqtt.DriverName] = true
	}
	for _, m := range c.MQTT {
		drivers[m.ID] = true
	}
	return drivers
}

func (c *Config) validateCommands() error {
	drivers := c.CommandDrivers()
	names := make(map[string]bool, len(c.Commands))
	for _, cmd := range c.Commands {
		if cmd.Name == "" {
			return invalid("validateCommands", "command without name")
		}
		if names[cmd.Name] {
			return invalid("validateCommands", "duplicate command %q", cmd.Name)
		}
		names[cmd.Name] = true
		if !cmd.ReadOnly && !drivers[cmd.Driver] {
			return invalid("validateCommands", "command %q: unknown driver %q", cmd.Name, cmd.Driver)
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	mask := func(s *string) {
		if *s != "" {
			*s = "****"
		}
	}
	mask(&masked.NATS.Password)
	mask(&masked.NATS.Token)
	mask(&masked.Influx.Token)
	for i := range masked.Weather {
		mask(&masked.Weather[i].APIKey)
	}
	for i := range masked.MQTT {
		mask(&masked.MQTT[i].Password)
	}
	for k, v := range masked.HTTPCommands.Headers {
		mask(&v)
		masked.HTTPCommands.Headers[k] = v
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode config")
	}
	return safeWriteFile(path, data)
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	a1, b1, c1, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	a2, b2, c2, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}
	for _, pair := range [][2]int{{a1, a2}, {b1, b2}, {c1, c2}} {
		switch {
		case pair[0] > pair[1]:
			return 1, nil
		case pair[0] < pair[1]:
			return -1, nil
		}
	}
	return 0, nil
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, fmt.Errorf("version cannot be empty")
	}
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component '%s'", part)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
