package config

import (
	"io"
	"log/slog"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/sensor"
)

// BuildSensors creates the sensor registry described by Sensors.
func (c *Config) BuildSensors(logger *slog.Logger) (*sensor.Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg := sensor.NewRegistry()
	for _, def := range c.Sensors {
		s, err := sensor.NewFromDefinition(def, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Add(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildAssets creates the asset registry described by Assets.
func (c *Config) BuildAssets(logger *slog.Logger) (*asset.Registry, error) {
	reg := asset.NewRegistry(logger)
	for _, a := range c.Assets {
		if err := reg.Add(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildCommands defines every configured command. Drivers are registered by
// the caller once the protocols they publish through exist.
func (c *Config) BuildCommands() (*rule.CommandRegistry, error) {
	reg := rule.NewCommandRegistry()
	for _, def := range c.Commands {
		if err := reg.Define(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
