// Package jsonutil provides helper functions for extracting typed values
// from unstructured JSON maps (map[string]any).
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// IntFromAny converts various numeric types to int. Twitch APIs often
// encode numeric IDs as JSON strings, so those are parsed too.
func IntFromAny(value any) (int, error) {
	switch num := value.(type) {
	case float64:
		return int(num), nil
	case int:
		return num, nil
	case int64:
		return int(num), nil
	case json.Number:
		i, err := num.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(num)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("jsonutil: cannot convert %T to int", value)
	}
}

// FloatFromAny converts various numeric types to float64.
func FloatFromAny(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// StringFromAny safely converts any value to string.
func StringFromAny(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// IntFromMap extracts an int from a map by key. Missing keys and
// unconvertible values read as zero.
func IntFromMap(data map[string]any, key string) int {
	if v, ok := data[key]; ok {
		i, _ := IntFromAny(v)
		return i
	}
	return 0
}

// StringFromMap extracts a string from a map by key.
func StringFromMap(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		return StringFromAny(v)
	}
	return ""
}

// BoolFromMap extracts a bool from a map by key.
func BoolFromMap(data map[string]any, key string) bool {
	if v, ok := data[key]; ok {
		if boolVal, ok := v.(bool); ok {
			return boolVal
		}
	}
	return false
}
