package mqtt

import (
	"fmt"
	"time"

	"github.com/c360/assetflow/errors"
)

// Config holds configuration for one MQTT input instance.
type Config struct {
	// ID is the protocol instance id that attribute links refer to.
	ID       string `json:"id"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      byte   `json:"qos"`

	ConnectTimeout string `json:"connect_timeout"`
	// ConnectRetries bounds the initial connection attempts.
	ConnectRetries int `json:"connect_retries"`
	// ConnectMaxElapsed bounds the total time spent on initial attempts.
	ConnectMaxElapsed string `json:"connect_max_elapsed"`
}

// DefaultConfig returns the defaults for an instance named "mqtt".
func DefaultConfig() Config {
	return Config{
		ID:                "mqtt",
		Broker:            "tcp://localhost:1883",
		ClientID:          "assetflow",
		QoS:               1,
		ConnectTimeout:    "10s",
		ConnectRetries:    5,
		ConnectMaxElapsed: "30s",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: id is required", errors.ErrInvalidConfig), "Config", "Validate", "check id")
	}
	if c.Broker == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: broker is required", errors.ErrInvalidConfig), "Config", "Validate", "check broker")
	}
	if c.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, c.QoS), "Config", "Validate", "check qos")
	}
	if c.ConnectRetries < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: connect_retries %d", errors.ErrInvalidConfig, c.ConnectRetries),
			"Config", "Validate", "check retries")
	}
	for name, v := range map[string]string{"connect_timeout": c.ConnectTimeout, "connect_max_elapsed": c.ConnectMaxElapsed} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s %q", errors.ErrInvalidConfig, name, v), "Config", "Validate", "parse "+name)
		}
	}
	return nil
}

func duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
