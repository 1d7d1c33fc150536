package models

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// FilterOperator is a comparison applied by a trigger filter condition.
type FilterOperator string

const (
	OperatorEquals    FilterOperator = "equals"
	OperatorNotEquals FilterOperator = "not_equals"
	OperatorContains  FilterOperator = "contains"
	OperatorExists    FilterOperator = "exists"
	OperatorNotExists FilterOperator = "not_exists"
	OperatorGreater   FilterOperator = "gt"
	OperatorGreaterEq FilterOperator = "gte"
	OperatorLess      FilterOperator = "lt"
	OperatorLessEq    FilterOperator = "lte"
	OperatorIn        FilterOperator = "in"
)

const (
	MatchAll = "all"
	MatchAny = "any"
)

var ErrInvalidFilter = errors.New("invalid trigger filter")

// TriggerFilter is a structured predicate evaluated against the trigger payload.
// A nil or empty filter matches every payload.
type TriggerFilter struct {
	Match      string      `json:"match,omitempty"      yaml:"match,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Condition compares the payload value at Field with Value.
type Condition struct {
	Field    string         `json:"field"           yaml:"field"`
	Operator FilterOperator `json:"operator"        yaml:"operator"`
	Value    any            `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks the filter structure without evaluating it.
func (f *TriggerFilter) Validate() error {
	if f == nil {
		return nil
	}

	if f.Match != "" && f.Match != MatchAll && f.Match != MatchAny {
		return fmt.Errorf("%w: unknown match mode %q", ErrInvalidFilter, f.Match)
	}

	for i, condition := range f.Conditions {
		if condition.Field == "" {
			return fmt.Errorf("%w: condition %d has no field", ErrInvalidFilter, i)
		}

		switch condition.Operator {
		case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorExists, OperatorNotExists,
			OperatorGreater, OperatorGreaterEq, OperatorLess, OperatorLessEq:
		case OperatorIn:
			if _, ok := condition.Value.([]any); !ok {
				return fmt.Errorf("%w: condition %d operator in requires a list value", ErrInvalidFilter, i)
			}
		default:
			return fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidFilter, i, condition.Operator)
		}
	}

	return nil
}

// Evaluate reports whether payload satisfies the filter.
func (f *TriggerFilter) Evaluate(payload map[string]any) bool {
	if f == nil || len(f.Conditions) == 0 {
		return true
	}

	anyMode := f.Match == MatchAny

	for _, condition := range f.Conditions {
		matched := condition.Evaluate(payload)

		if anyMode && matched {
			return true
		}

		if !anyMode && !matched {
			return false
		}
	}

	return !anyMode
}

// Evaluate applies the condition to payload. Type mismatches never match.
func (c Condition) Evaluate(payload map[string]any) bool {
	actual, found := LookupPath(payload, c.Field)

	switch c.Operator {
	case OperatorExists:
		return found && actual != nil
	case OperatorNotExists:
		return !found || actual == nil
	}

	if !found {
		return c.Operator == OperatorNotEquals
	}

	switch c.Operator {
	case OperatorEquals:
		return valuesEqual(actual, c.Value)
	case OperatorNotEquals:
		return !valuesEqual(actual, c.Value)
	case OperatorContains:
		return containsValue(actual, c.Value)
	case OperatorIn:
		options, ok := c.Value.([]any)
		if !ok {
			return false
		}

		for _, option := range options {
			if valuesEqual(actual, option) {
				return true
			}
		}

		return false
	case OperatorGreater, OperatorGreaterEq, OperatorLess, OperatorLessEq:
		return compareNumbers(actual, c.Value, c.Operator)
	default:
		return false
	}
}

func valuesEqual(actual, expected any) bool {
	if leftStr, ok := actual.(string); ok {
		if rightStr, ok := expected.(string); ok {
			return leftStr == rightStr
		}
	}

	left, leftOK := toFloat(actual)
	right, rightOK := toFloat(expected)

	if leftOK && rightOK {
		return left == right
	}

	return reflect.DeepEqual(actual, expected)
}

func containsValue(actual, expected any) bool {
	switch value := actual.(type) {
	case string:
		needle, ok := expected.(string)

		return ok && strings.Contains(value, needle)
	case []any:
		for _, item := range value {
			if valuesEqual(item, expected) {
				return true
			}
		}
	}

	return false
}

func compareNumbers(actual, expected any, operator FilterOperator) bool {
	left, ok := toFloat(actual)
	if !ok {
		return false
	}

	right, ok := toFloat(expected)
	if !ok {
		return false
	}

	switch operator {
	case OperatorGreater:
		return left > right
	case OperatorGreaterEq:
		return left >= right
	case OperatorLess:
		return left < right
	case OperatorLessEq:
		return left <= right
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
