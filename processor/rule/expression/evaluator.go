package expression

import (
	"fmt"
	"strings"

	"github.com/c360/assetflow/sensor"
)

// NewExpressionEvaluator creates a new expression evaluator with all supported operators
func NewExpressionEvaluator() *Evaluator {
	evaluator := &Evaluator{
		operators:    make(map[string]OperatorFunc),
		typeDetector: &defaultTypeDetector{},
	}

	// Register comparison operators
	evaluator.operators[OpEqual] = operatorEqual
	evaluator.operators[OpNotEqual] = operatorNotEqual
	evaluator.operators[OpLessThan] = operatorLessThan
	evaluator.operators[OpLessThanEqual] = operatorLessThanEqual
	evaluator.operators[OpGreaterThan] = operatorGreaterThan
	evaluator.operators[OpGreaterThanEqual] = operatorGreaterThanEqual
	evaluator.operators[OpBetween] = operatorBetween

	// Register string operators
	evaluator.operators[OpContains] = operatorContains
	evaluator.operators[OpStartsWith] = operatorStartsWith
	evaluator.operators[OpEndsWith] = operatorEndsWith
	evaluator.operators[OpRegexMatch] = operatorRegex

	// Register set operators
	evaluator.operators[OpIn] = operatorIn
	evaluator.operators[OpNotIn] = operatorNotIn

	return evaluator
}

// Supports reports whether op is a registered operator
func (e *Evaluator) Supports(op string) bool {
	_, ok := e.operators[op]
	return ok
}

// Evaluate evaluates a logical expression against the states returned by resolve
func (e *Evaluator) Evaluate(resolve StateResolver, expr LogicalExpression) (bool, error) {
	if len(expr.Conditions) == 0 {
		return true, nil // Empty condition list passes
	}

	results := make([]bool, len(expr.Conditions))

	// Evaluate each condition
	for i, condition := range expr.Conditions {
		st, found := resolve(condition.Sensor)
		if !found {
			if condition.Required {
				return false, &EvaluationError{
					Sensor:  condition.Sensor,
					Field:   condition.Field,
					Message: "required sensor has no fact",
				}
			}
			results[i] = false
			continue
		}

		result, err := e.EvaluateCondition(st, condition)
		if err != nil {
			return false, err
		}
		results[i] = result
	}

	// Apply logic operator
	switch expr.Logic {
	case LogicOr, "": // Default to OR if not specified
		for _, result := range results {
			if result {
				return true, nil
			}
		}
		return false, nil

	case LogicAnd:
		for _, result := range results {
			if !result {
				return false, nil
			}
		}
		return true, nil

	default:
		return false, &EvaluationError{
			Message: fmt.Sprintf("unsupported logic operator: %s", expr.Logic),
		}
	}
}

// EvaluateCondition evaluates a single condition against a sensor state
func (e *Evaluator) EvaluateCondition(st sensor.State, condition ConditionExpression) (bool, error) {
	fieldValue, exists, err := e.typeDetector.GetFieldValue(st, condition.Field)
	if err != nil {
		return false, &EvaluationError{
			Sensor:  condition.Sensor,
			Field:   condition.Field,
			Message: "failed to get field value",
			Err:     err,
		}
	}

	// A field the state kind does not carry never matches
	if !exists {
		return false, nil
	}

	opFunc, exists := e.operators[condition.Operator]
	if !exists {
		return false, &EvaluationError{
			Sensor:   condition.Sensor,
			Field:    condition.Field,
			Operator: condition.Operator,
			Message:  "unsupported operator",
		}
	}

	result, err := opFunc(fieldValue, condition.Value)
	if err != nil {
		return false, &EvaluationError{
			Sensor:   condition.Sensor,
			Field:    condition.Field,
			Operator: condition.Operator,
			Message:  "operator execution failed",
			Err:      err,
		}
	}

	return result, nil
}

type bounded interface {
	Min() int
	Max() int
}

// defaultTypeDetector reads fields off the concrete sensor states
type defaultTypeDetector struct{}

// GetFieldValue extracts a field from a sensor state. Fields a state kind
// does not carry report exists=false.
func (d *defaultTypeDetector) GetFieldValue(st sensor.State, field string) (any, bool, error) {
	switch field {
	case FieldValue:
		if sensor.IsUnknown(st) {
			return sensor.UnknownValue, true, nil
		}
		if sw, ok := st.(*sensor.SwitchState); ok {
			if sw.IsOn() {
				return "on", true, nil
			}
			return "off", true, nil
		}
		return st.Value(), true, nil
	case FieldSourceID:
		return st.SourceID(), true, nil
	case FieldName:
		return st.SourceName(), true, nil
	case FieldKind:
		return st.Kind().String(), true, nil
	case FieldUnknown:
		return sensor.IsUnknown(st), true, nil
	case FieldMin:
		if b, ok := st.(bounded); ok {
			return b.Min(), true, nil
		}
		return nil, false, nil
	case FieldMax:
		if b, ok := st.(bounded); ok {
			return b.Max(), true, nil
		}
		return nil, false, nil
	case FieldOriginal:
		if c, ok := st.(*sensor.CustomState); ok {
			return c.Original(), true, nil
		}
		return nil, false, nil
	case FieldPayload:
		if sw, ok := st.(*sensor.SwitchState); ok {
			return sw.Payload(), true, nil
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unknown field %q", field)
	}
}

// DetectFieldType determines the Go type of a field value
func (d *defaultTypeDetector) DetectFieldType(value any) FieldType {
	switch value.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return FieldTypeFloat64
	case string:
		return FieldTypeString
	case bool:
		return FieldTypeBool
	case []any:
		return FieldTypeArray
	default:
		return FieldTypeUnknown
	}
}

// Operator implementations

func operatorEqual(fieldValue, compareValue any) (bool, error) {
	return compareValues(fieldValue, compareValue) == 0, nil
}

func operatorNotEqual(fieldValue, compareValue any) (bool, error) {
	return compareValues(fieldValue, compareValue) != 0, nil
}

func operatorLessThan(fieldValue, compareValue any) (bool, error) {
	cmp, err := compareValuesWithError(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

func operatorLessThanEqual(fieldValue, compareValue any) (bool, error) {
	cmp, err := compareValuesWithError(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return cmp <= 0, nil
}

func operatorGreaterThan(fieldValue, compareValue any) (bool, error) {
	cmp, err := compareValuesWithError(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}

func operatorGreaterThanEqual(fieldValue, compareValue any) (bool, error) {
	cmp, err := compareValuesWithError(fieldValue, compareValue)
	if err != nil {
		return false, err
	}
	return cmp >= 0, nil
}

func operatorBetween(fieldValue, compareValue any) (bool, error) {
	bounds, ok := compareValue.([]any)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("between needs a [low, high] pair")
	}
	lo, err := compareValuesWithError(fieldValue, bounds[0])
	if err != nil {
		return false, err
	}
	hi, err := compareValuesWithError(fieldValue, bounds[1])
	if err != nil {
		return false, err
	}
	return lo >= 0 && hi <= 0, nil
}

func operatorIn(fieldValue, compareValue any) (bool, error) {
	set, ok := compareValue.([]any)
	if !ok {
		return false, fmt.Errorf("in needs a list value")
	}
	for _, candidate := range set {
		if compareValues(fieldValue, candidate) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func operatorNotIn(fieldValue, compareValue any) (bool, error) {
	in, err := operatorIn(fieldValue, compareValue)
	return !in, err
}

func operatorContains(fieldValue, compareValue any) (bool, error) {
	fieldStr, ok := fieldValue.(string)
	if !ok {
		fieldStr = fmt.Sprintf("%v", fieldValue)
	}

	compareStr, ok := compareValue.(string)
	if !ok {
		compareStr = fmt.Sprintf("%v", compareValue)
	}

	return strings.Contains(fieldStr, compareStr), nil
}

func operatorStartsWith(fieldValue, compareValue any) (bool, error) {
	fieldStr, ok := fieldValue.(string)
	if !ok {
		fieldStr = fmt.Sprintf("%v", fieldValue)
	}

	compareStr, ok := compareValue.(string)
	if !ok {
		compareStr = fmt.Sprintf("%v", compareValue)
	}

	return strings.HasPrefix(fieldStr, compareStr), nil
}

func operatorEndsWith(fieldValue, compareValue any) (bool, error) {
	fieldStr, ok := fieldValue.(string)
	if !ok {
		fieldStr = fmt.Sprintf("%v", fieldValue)
	}

	compareStr, ok := compareValue.(string)
	if !ok {
		compareStr = fmt.Sprintf("%v", compareValue)
	}

	return strings.HasSuffix(fieldStr, compareStr), nil
}

func operatorRegex(fieldValue, compareValue any) (bool, error) {
	fieldStr, ok := fieldValue.(string)
	if !ok {
		fieldStr = fmt.Sprintf("%v", fieldValue)
	}

	pattern, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("regex pattern must be a string")
	}

	// Use cached regex compilation for better performance
	re, err := compileRegex(pattern)
	if err != nil {
		return false, err
	}

	return re.MatchString(fieldStr), nil
}

// Helper functions for value comparison

func compareValues(a, b any) int {
	result, _ := compareValuesWithError(a, b)
	return result
}

func compareValuesWithError(a, b any) (int, error) {
	// Try numeric comparison first
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)

	if aIsNum && bIsNum {
		if aNum < bNum {
			return -1, nil
		} else if aNum > bNum {
			return 1, nil
		}
		return 0, nil
	}

	// Fallback to string comparison
	aStr := fmt.Sprintf("%v", a)
	bStr := fmt.Sprintf("%v", b)

	if aStr < bStr {
		return -1, nil
	} else if aStr > bStr {
		return 1, nil
	}
	return 0, nil
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
