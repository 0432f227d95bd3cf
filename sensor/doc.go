// Package sensor holds the state model and the per-type sensor processors.
//
// Drivers and protocols produce raw strings. A Sensor validates and maps a
// raw string into an immutable State: SwitchState, RangeState, LevelState or
// CustomState, or UnknownState when the reading is missing (UnknownValue) or
// invalid. Bad data never becomes an error here; it becomes UnknownState and,
// unless it was the explicit unknown sentinel, a warning in the log.
package sensor
