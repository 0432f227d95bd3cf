package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/sensor"
)

func resolverOf(states ...sensor.State) StateResolver {
	byName := make(map[string]sensor.State, len(states))
	for _, st := range states {
		byName[st.SourceName()] = st
	}
	return func(name string) (sensor.State, bool) {
		st, ok := byName[name]
		return st, ok
	}
}

func cond(sensorName, field, op string, value any) ConditionExpression {
	return ConditionExpression{Sensor: sensorName, Field: field, Operator: op, Value: value}
}

func TestExpressionEvaluator_NumericOperators(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	resolve := resolverOf(sensor.NewRangeState(1, "boiler.temp", 85, 0, 120))

	tests := []struct {
		name     string
		cond     ConditionExpression
		expected bool
	}{
		{"equal", cond("boiler.temp", FieldValue, OpEqual, 85), true},
		{"equal_float", cond("boiler.temp", FieldValue, OpEqual, 85.0), true},
		{"not_equal", cond("boiler.temp", FieldValue, OpNotEqual, 90), true},
		{"less_than", cond("boiler.temp", FieldValue, OpLessThan, 90), true},
		{"less_than_equal", cond("boiler.temp", FieldValue, OpLessThanEqual, 85), true},
		{"greater_than", cond("boiler.temp", FieldValue, OpGreaterThan, 80.5), true},
		{"greater_than_equal", cond("boiler.temp", FieldValue, OpGreaterThanEqual, 86), false},
		{"between", cond("boiler.temp", FieldValue, OpBetween, []any{80, 90}), true},
		{"between_outside", cond("boiler.temp", FieldValue, OpBetween, []any{0, 50}), false},
		{"max_bound", cond("boiler.temp", FieldMax, OpEqual, 120), true},
		{"min_bound", cond("boiler.temp", FieldMin, OpEqual, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(resolve, LogicalExpression{
				Conditions: []ConditionExpression{tt.cond},
				Logic:      LogicAnd,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExpressionEvaluator_StringOperators(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	resolve := resolverOf(
		sensor.NewMappedCustomState(2, "door", "1", "open"),
		sensor.NewSwitchState(3, "hall.light", true, "dim"),
	)

	tests := []struct {
		name     string
		cond     ConditionExpression
		expected bool
	}{
		{"switch_on", cond("hall.light", FieldValue, OpEqual, "on"), true},
		{"switch_off", cond("hall.light", FieldValue, OpEqual, "off"), false},
		{"switch_payload", cond("hall.light", FieldPayload, OpEqual, "dim"), true},
		{"custom_mapped_value", cond("door", FieldValue, OpEqual, "1"), true},
		{"custom_original", cond("door", FieldOriginal, OpEqual, "open"), true},
		{"contains", cond("door", FieldOriginal, OpContains, "pe"), true},
		{"starts_with", cond("door", FieldOriginal, OpStartsWith, "op"), true},
		{"ends_with", cond("door", FieldOriginal, OpEndsWith, "en"), true},
		{"regex", cond("door", FieldOriginal, OpRegexMatch, "^(open|closed)$"), true},
		{"in", cond("door", FieldOriginal, OpIn, []any{"open", "ajar"}), true},
		{"not_in", cond("door", FieldOriginal, OpNotIn, []any{"open", "ajar"}), false},
		{"kind", cond("door", FieldKind, OpEqual, "custom"), true},
		{"name", cond("door", FieldName, OpEqual, "door"), true},
		{"source_id", cond("door", FieldSourceID, OpEqual, 2), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(resolve, LogicalExpression{
				Conditions: []ConditionExpression{tt.cond},
				Logic:      LogicAnd,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExpressionEvaluator_UnknownState(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	resolve := resolverOf(sensor.NewUnknownState(4, "outdoor.temp"))

	result, err := evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{cond("outdoor.temp", FieldUnknown, OpEqual, true)},
	})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{cond("outdoor.temp", FieldValue, OpEqual, sensor.UnknownValue)},
	})
	require.NoError(t, err)
	assert.True(t, result)

	// Unknown states carry no bounds
	result, err = evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{cond("outdoor.temp", FieldMin, OpEqual, 0)},
	})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestExpressionEvaluator_LogicOperators(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	resolve := resolverOf(
		sensor.NewSwitchState(1, "x", true, ""),
		sensor.NewLevelState(2, "dimmer", 40),
	)

	on := cond("x", FieldValue, OpEqual, "on")
	high := cond("dimmer", FieldValue, OpGreaterThan, 50)

	tests := []struct {
		name     string
		logic    string
		expected bool
	}{
		{"and", LogicAnd, false},
		{"or", LogicOr, true},
		{"default_is_or", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(resolve, LogicalExpression{
				Conditions: []ConditionExpression{on, high},
				Logic:      tt.logic,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	_, err := evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{on},
		Logic:      "xor",
	})
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "unsupported logic operator")
}

func TestExpressionEvaluator_MissingSensor(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	resolve := resolverOf(sensor.NewLevelState(2, "dimmer", 40))

	missing := cond("wifi", FieldValue, OpGreaterThan, 0)

	result, err := evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{missing},
		Logic:      LogicAnd,
	})
	require.NoError(t, err)
	assert.False(t, result)

	missing.Required = true
	_, err = evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{cond("dimmer", FieldValue, OpGreaterThan, 10), missing},
		Logic:      LogicAnd,
	})
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "wifi", evalErr.Sensor)
	assert.Contains(t, evalErr.Message, "required sensor has no fact")
}

func TestExpressionEvaluator_EmptyConditions(t *testing.T) {
	result, err := NewExpressionEvaluator().Evaluate(resolverOf(), LogicalExpression{Logic: LogicAnd})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestExpressionEvaluator_UnsupportedOperatorAndField(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	resolve := resolverOf(sensor.NewLevelState(2, "dimmer", 40))

	_, err := evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{cond("dimmer", FieldValue, "invalid_op", 1)},
	})
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "unsupported operator")

	_, err = evaluator.Evaluate(resolve, LogicalExpression{
		Conditions: []ConditionExpression{cond("dimmer", "colour", OpEqual, 1)},
	})
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "failed to get field value")
}
