// Package errors provides standardized error handling for assetflow.
//
// # Classification
//
// Errors fall into three classes that map onto how the rule engine and the
// protocol layer react to them:
//
//   - Transient: I/O failures such as a failed health probe or a failed group
//     call. The unit reports an error status and the next poll cycle retries.
//   - Invalid: bad runtime data or a wiring bug. Bad data becomes an unknown
//     sensor state; wiring bugs (sensor type mismatch) are returned to the rule.
//   - Fatal: configuration the unit cannot run without, such as a missing API
//     key. The affected protocol instance stops in the error state.
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Use the classified wrappers to attach a class:
//
//	errors.WrapTransient(err, "WeatherProtocol", "poll", "fetch group")
//	errors.WrapInvalid(err, "SwitchFacade", "Name", "resolve sensor")
//	errors.WrapFatal(errors.ErrMissingCredential, "WeatherProtocol", "Start", "check api key")
//
// Chain renders a full cause chain for logging, which the rule engine uses when a
// firing cycle fails.
package errors
