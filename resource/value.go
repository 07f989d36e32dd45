package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/crmarques/portsync/faults"
)

// Value is one node of a declaration tree: nil, bool, string, int64,
// float64, map[string]any, or []any after normalization.
type Value = any

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindBool
)

func KindOf(value Value) ValueKind {
	switch value.(type) {
	case nil:
		return KindNull
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	case string:
		return KindString
	case int64, float64, json.Number:
		return KindNumber
	case bool:
		return KindBool
	default:
		return KindNull
	}
}

// Normalize rewrites a decoded payload into the canonical tree shape:
// numbers collapse to int64 or float64, nested containers are rebuilt as
// map[string]any and []any. Values that cannot appear in a JSON or YAML
// document are rejected.
func Normalize(value Value) (Value, error) {
	switch typed := value.(type) {
	case nil, bool, string:
		return typed, nil
	case float32:
		return normalizeFloat(float64(typed))
	case float64:
		return normalizeFloat(typed)
	case int:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint:
		return normalizeUint(uint64(typed))
	case uint8:
		return normalizeUint(uint64(typed))
	case uint16:
		return normalizeUint(uint64(typed))
	case uint32:
		return normalizeUint(uint64(typed))
	case uint64:
		return normalizeUint(typed)
	case json.Number:
		return normalizeJSONNumber(typed)
	case []any:
		return normalizeSlice(typed)
	case map[string]any:
		return normalizeStringMap(typed)
	case map[any]any:
		return normalizeAnyMap(typed)
	}

	return nil, faults.NewTypedError(
		faults.ValidationError,
		fmt.Sprintf("payload contains unsupported value of type %T", value),
		nil,
	)
}

func normalizeFloat(value float64) (Value, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, faults.NewTypedError(faults.ValidationError, "payload contains non-finite float", nil)
	}
	if value == math.Trunc(value) && math.Abs(value) < float64(math.MaxInt64) {
		return int64(value), nil
	}
	return value, nil
}

func normalizeUint(value uint64) (Value, error) {
	if value > math.MaxInt64 {
		return nil, faults.NewTypedError(faults.ValidationError, "payload contains integer out of range", nil)
	}
	return int64(value), nil
}

func normalizeJSONNumber(value json.Number) (Value, error) {
	if asInt, err := value.Int64(); err == nil {
		return asInt, nil
	}
	if _, ok := new(big.Int).SetString(value.String(), 10); ok {
		return nil, faults.NewTypedError(faults.ValidationError, "payload contains integer out of range", nil)
	}
	asFloat, err := value.Float64()
	if err != nil {
		return nil, faults.NewTypedError(faults.ValidationError, "payload contains malformed number", err)
	}
	return normalizeFloat(asFloat)
}

func normalizeSlice(values []any) (Value, error) {
	normalized := make([]any, 0, len(values))
	for _, item := range values {
		value, err := Normalize(item)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, value)
	}
	return normalized, nil
}

func normalizeStringMap(values map[string]any) (Value, error) {
	normalized := make(map[string]any, len(values))
	for key, item := range values {
		value, err := Normalize(item)
		if err != nil {
			return nil, err
		}
		normalized[key] = value
	}
	return normalized, nil
}

func normalizeAnyMap(values map[any]any) (Value, error) {
	normalized := make(map[string]any, len(values))
	for key, item := range values {
		name, ok := key.(string)
		if !ok {
			return nil, faults.NewTypedError(
				faults.ValidationError,
				fmt.Sprintf("payload contains non-string mapping key of type %T", key),
				nil,
			)
		}
		value, err := Normalize(item)
		if err != nil {
			return nil, err
		}
		normalized[name] = value
	}
	return normalized, nil
}

// FromJSON decodes raw JSON into a normalized Value.
func FromJSON(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, faults.NewTypedError(faults.LoadError, "malformed JSON payload", err)
	}
	return Normalize(decoded)
}

func DeepEqual(left Value, right Value) bool {
	return reflect.DeepEqual(left, right)
}

func DeepClone(value Value) Value {
	switch typed := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(typed))
		for key, item := range typed {
			cloned[key] = DeepClone(item)
		}
		return cloned
	case []any:
		cloned := make([]any, len(typed))
		for idx, item := range typed {
			cloned[idx] = DeepClone(item)
		}
		return cloned
	default:
		return typed
	}
}

func AsObject(value Value) (map[string]any, bool) {
	obj, ok := value.(map[string]any)
	return obj, ok
}

func AsArray(value Value) ([]any, bool) {
	arr, ok := value.([]any)
	return arr, ok
}

func AsString(value Value) (string, bool) {
	str, ok := value.(string)
	return str, ok
}
