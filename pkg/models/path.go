package models

import (
	"strconv"
	"strings"
)

// LookupPath resolves a dot separated path such as "customer.address.city" or
// "items.0.sku" inside nested maps and slices.
func LookupPath(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		case []map[string]any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}
