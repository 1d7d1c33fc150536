// Package template resolves {{...}} placeholders in step configurations against the action context.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/siteflow/pkg/models"
)

var (
	// ErrMissingContextValue is returned when a required field references a value absent from the context.
	ErrMissingContextValue = errors.New("missing context value")

	// ErrCoercion is returned when a resolved value cannot be converted to the schema type.
	ErrCoercion = errors.New("value cannot be coerced to schema type")
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][\w-]*(?:\.[\w-]+)*)\s*\}\}`)

// MissingValueError reports the required field and the unresolved reference.
type MissingValueError struct {
	Field     string
	Reference string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("required field %q references missing value %q", e.Field, e.Reference)
}

func (e *MissingValueError) Unwrap() error {
	return ErrMissingContextValue
}

// CoercionError reports a value that does not fit the type declared by the schema.
type CoercionError struct {
	Field string
	Type  string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("field %q cannot be converted to %s: %v", e.Field, e.Type, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return ErrCoercion
}

// HasPlaceholder reports whether s contains at least one placeholder.
func HasPlaceholder(s string) bool {
	return placeholderPattern.MatchString(s)
}

// IsPlaceholder reports whether s consists of exactly one placeholder.
func IsPlaceholder(s string) bool {
	match := placeholderPattern.FindStringIndex(strings.TrimSpace(s))

	return match != nil && match[0] == 0 && match[1] == len(strings.TrimSpace(s))
}

// References lists the context paths referenced by s.
func References(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)

	refs := make([]string, 0, len(matches))
	for _, match := range matches {
		refs = append(refs, match[1])
	}

	return refs
}

// Resolve returns a copy of config with every placeholder replaced by its value in data.
// Values are coerced to the type the schema declares for the field. Substituted values
// are never scanned for placeholders again.
func Resolve(config map[string]any, data map[string]any, schema *models.JSONSchema) (map[string]any, error) {
	r := resolver{data: data}

	resolved, err := r.resolveMap(config, schema.Root(), "")
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

type resolver struct {
	data map[string]any
}

func (r resolver) resolveMap(config map[string]any, prop *models.Property, prefix string) (map[string]any, error) {
	resolved := make(map[string]any, len(config))

	for key, value := range config {
		field := joinField(prefix, key)

		out, err := r.resolveValue(value, prop.Child(key), prop.IsRequired(key), field)
		if err != nil {
			return nil, err
		}

		resolved[key] = out
	}

	return resolved, nil
}

func (r resolver) resolveValue(value any, prop *models.Property, required bool, field string) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, prop, required, field)
	case map[string]any:
		return r.resolveMap(v, prop, field)
	case []any:
		items := make([]any, len(v))

		var itemProp *models.Property
		if prop != nil {
			itemProp = prop.Items
		}

		for i, item := range v {
			out, err := r.resolveValue(item, itemProp, false, field+"."+strconv.Itoa(i))
			if err != nil {
				return nil, err
			}

			items[i] = out
		}

		return coerce(items, prop, field)
	default:
		return coerce(v, prop, field)
	}
}

func (r resolver) resolveString(s string, prop *models.Property, required bool, field string) (any, error) {
	if !HasPlaceholder(s) {
		return coerce(s, prop, field)
	}

	if IsPlaceholder(s) {
		reference := References(s)[0]

		value, ok := models.LookupPath(r.data, reference)
		if !ok || value == nil {
			if required {
				return nil, &MissingValueError{Field: field, Reference: reference}
			}

			return emptyValue(prop), nil
		}

		return coerce(value, prop, field)
	}

	var missing string

	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		reference := placeholderPattern.FindStringSubmatch(match)[1]

		value, ok := models.LookupPath(r.data, reference)
		if !ok || value == nil {
			if missing == "" {
				missing = reference
			}

			return ""
		}

		return stringify(value)
	})

	if missing != "" && required {
		return nil, &MissingValueError{Field: field, Reference: missing}
	}

	return coerce(out, prop, field)
}

func joinField(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "." + key
}

func emptyValue(prop *models.Property) any {
	if prop == nil || prop.Type == "" || prop.Type == "string" {
		return ""
	}

	return nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}
