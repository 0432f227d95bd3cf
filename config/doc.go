// Package config loads and validates the assetflow configuration.
//
// A configuration is one document, usually JSON (YAML is accepted too),
// layered over Default by a Loader:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.json")
//	loader.AddLayer("configs/site.yaml")
//	cfg, err := loader.Load()
//
// Objects merge key by key and lists replace the lower layer. ASSETFLOW_*
// environment variables override credentials and endpoints last, e.g.
// ASSETFLOW_NATS_URLS, ASSETFLOW_INFLUX_TOKEN and ASSETFLOW_WEATHER_API_KEY.
//
// Validate checks each section and the references between them: asset
// attributes must name configured sensors and protocol instances, weather
// links need a located asset and a known field, MQTT links need a topic and
// commands need a driver that will be registered at startup.
//
// BuildSensors, BuildAssets and BuildCommands turn the validated document
// into the runtime registries.
package config
