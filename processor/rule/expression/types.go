package expression

import (
	"fmt"

	"github.com/c360/assetflow/sensor"
)

// ConditionExpression compares one field of a sensor's current state
type ConditionExpression struct {
	Sensor   string `json:"sensor" yaml:"sensor"`     // Sensor name (e.g., "hall.light")
	Field    string `json:"field" yaml:"field"`       // State field (e.g., "value", "min")
	Operator string `json:"operator" yaml:"operator"` // Comparison operator (e.g., "lte", "eq", "regex")
	Value    any    `json:"value" yaml:"value"`       // Comparison value (20, "on", true, ["a","b"])
	Required bool   `json:"required" yaml:"required"` // If true, a sensor without a fact is an error
}

// LogicalExpression combines multiple conditions with logic operators
type LogicalExpression struct {
	Conditions []ConditionExpression `json:"conditions" yaml:"conditions"`
	Logic      string                `json:"logic" yaml:"logic"` // "and", "or"
}

// Sensors returns the distinct sensor names referenced, in order of first use.
func (l LogicalExpression) Sensors() []string {
	seen := make(map[string]bool, len(l.Conditions))
	var names []string
	for _, c := range l.Conditions {
		if !seen[c.Sensor] {
			seen[c.Sensor] = true
			names = append(names, c.Sensor)
		}
	}
	return names
}

// Evaluator processes expressions against sensor states
type Evaluator struct {
	operators    map[string]OperatorFunc
	typeDetector TypeDetector
}

// OperatorFunc defines the signature for operator implementations
type OperatorFunc func(fieldValue, compareValue any) (bool, error)

// StateResolver returns the current fact for a sensor name
type StateResolver func(name string) (sensor.State, bool)

// TypeDetector determines field type and extracts values from a sensor state
type TypeDetector interface {
	GetFieldValue(st sensor.State, field string) (value any, exists bool, err error)
	DetectFieldType(value any) FieldType
}

// FieldType represents the detected type of a field
type FieldType int

const (
	// FieldTypeUnknown represents an unknown or unsupported field type
	FieldTypeUnknown FieldType = iota
	// FieldTypeFloat64 represents a numeric field
	FieldTypeFloat64
	// FieldTypeString represents a string field
	FieldTypeString
	// FieldTypeBool represents a boolean field
	FieldTypeBool
	// FieldTypeArray represents an array field
	FieldTypeArray
)

func (f FieldType) String() string {
	switch f {
	case FieldTypeFloat64:
		return "float64"
	case FieldTypeString:
		return "string"
	case FieldTypeBool:
		return "bool"
	case FieldTypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// EvaluationError represents an error during expression evaluation
type EvaluationError struct {
	Sensor   string
	Field    string
	Operator string
	Message  string
	Err      error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error for '%s.%s' with operator '%s': %s: %v",
			e.Sensor, e.Field, e.Operator, e.Message, e.Err)
	}
	return fmt.Sprintf("evaluation error for '%s.%s' with operator '%s': %s",
		e.Sensor, e.Field, e.Operator, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Supported operators
const (
	// Comparison operators
	OpEqual            = "eq"
	OpNotEqual         = "ne"
	OpLessThan         = "lt"
	OpLessThanEqual    = "lte"
	OpGreaterThan      = "gt"
	OpGreaterThanEqual = "gte"
	OpBetween          = "between"

	// String operators
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegexMatch = "regex"

	// Set membership
	OpIn    = "in"
	OpNotIn = "not_in"
)

// Logic operators
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// State fields addressable by conditions
const (
	FieldValue    = "value"
	FieldSourceID = "source_id"
	FieldName     = "name"
	FieldKind     = "kind"
	FieldUnknown  = "unknown"
	FieldMin      = "min"
	FieldMax      = "max"
	FieldOriginal = "original"
	FieldPayload  = "payload"
)

var knownFields = map[string]bool{
	FieldValue:    true,
	FieldSourceID: true,
	FieldName:     true,
	FieldKind:     true,
	FieldUnknown:  true,
	FieldMin:      true,
	FieldMax:      true,
	FieldOriginal: true,
	FieldPayload:  true,
}
