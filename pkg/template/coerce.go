package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dukex/siteflow/pkg/models"
)

var (
	errNotWhole   = errors.New("not a whole number")
	errOutOfRange = errors.New("integer out of range")
)

// coerce converts value to the type declared by prop. Untyped fields keep the value as is.
func coerce(value any, prop *models.Property, field string) (any, error) {
	if prop == nil || prop.Type == "" || value == nil {
		return value, nil
	}

	var (
		out any
		err error
	)

	switch prop.Type {
	case "string":
		out = stringify(value)
	case "integer":
		out, err = toInteger(value)
	case "number":
		out, err = toNumber(value)
	case "boolean":
		out, err = toBoolean(value)
	case "object":
		out, err = toJSONKind[map[string]any](value)
	case "array":
		out, err = toJSONKind[[]any](value)
	default:
		out = value
	}

	if err != nil {
		return nil, &CoercionError{Field: field, Type: prop.Type, Err: err}
	}

	return out, nil
}

func toNumber(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}

		return strconv.ParseFloat(trimmed, 64)
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

func toInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	}

	number, err := toNumber(value)
	if err != nil || number == nil {
		return nil, err
	}

	f, _ := number.(float64)
	if f != math.Trunc(f) {
		return nil, errNotWhole
	}

	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, errOutOfRange
	}

	return int64(f), nil
}

func toBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}

		return strconv.ParseBool(trimmed)
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

func toJSONKind[T map[string]any | []any](value any) (any, error) {
	switch v := value.(type) {
	case T:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}

		var out T

		err := json.Unmarshal([]byte(trimmed), &out)
		if err != nil {
			return nil, err
		}

		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		var out T

		err = json.Unmarshal(raw, &out)
		if err != nil {
			return nil, err
		}

		return out, nil
	}
}
