package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/vinayprograms/devsupport/errors"
)

// Args wraps tool arguments with typed accessor methods. Every accessor
// failure is INVALID_INPUT.
type Args map[string]interface{}

// ParseArgs decodes a raw arguments object. Absent or null arguments are an
// empty set; anything other than a JSON object is INVALID_INPUT.
func ParseArgs(raw json.RawMessage) (Args, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("arguments must be a JSON object: %v", err))
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// String gets a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", errors.InvalidInput(fmt.Sprintf("%s is required", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.InvalidInput(fmt.Sprintf("%s must be a string, got %s", key, jsonType(v)))
	}
	return s, nil
}

// Int64 gets a required integer argument. JSON numbers decode as float64,
// so integral floats are accepted and fractional ones rejected.
func (a Args) Int64(key string) (int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, errors.InvalidInput(fmt.Sprintf("%s is required", key))
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n >= 1<<63 || n < -1<<63 {
			return 0, errors.InvalidInput(fmt.Sprintf("%s must be an integer, got %v", key, n))
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.InvalidInput(fmt.Sprintf("%s must be an integer, got %s", key, n))
		}
		return i, nil
	default:
		return 0, errors.InvalidInput(fmt.Sprintf("%s must be an integer, got %s", key, jsonType(v)))
	}
}

// IntOr gets an optional integer argument with a default. A present value
// of the wrong type is still an error.
func (a Args) IntOr(key string, defaultVal int) (int, error) {
	if !a.Has(key) {
		return defaultVal, nil
	}
	n, err := a.Int64(key)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Has returns true if the key is present and not null.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
