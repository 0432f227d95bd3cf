// Package assetflow reads asset attributes from field protocols, validates
// them through sensors and runs a forward-chaining rule engine on every
// change.
//
// # Architecture
//
// Data flows one way through a single serialized path:
//
//	protocol (weather, mqtt)
//	    → pipeline.UpdateAttribute
//	    → sensor (raw value → typed state, or unknown)
//	    → rule engine (working memory, facades, termination)
//	    → asset registry commit
//	    → natsclient event publisher
//
// Rules act through facades: switch, range, level and custom facades issue
// replacement states that re-enter the pipeline, the command facade runs
// commands through the log, http and mqtt drivers, and the persistence
// facade stores states in InfluxDB.
//
// # Packages
//
//   - sensor: state model and sensor definitions
//   - types/rule: the contract a rule technology implements
//   - processor/rule: engine, working memory, facades, dispatch
//   - processor/rule/expression: the declarative JSON/YAML rule technology
//   - protocol, protocol/weather: polling infrastructure and OpenWeather
//   - input/mqtt: push subscriptions and the mqtt command driver
//   - output/httppost, output/influx: http command driver and persistence
//   - pipeline, asset: event flow and attribute storage
//   - natsclient: NATS connection and attribute events
//   - config, health, metric, errors: ambient infrastructure
//
// The cmd/assetflow binary wires these together from layered configuration.
package assetflow
