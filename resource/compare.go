package resource

import (
	"strings"

	"github.com/itchyny/gojq"

	"github.com/crmarques/portsync/faults"
)

// CompareRules shape a payload before it is diffed: attributes the
// platform owns are dropped, and an optional jq expression can reshape
// the tree (for payloads wrapped in envelopes or carrying noisy fields).
type CompareRules struct {
	IgnoreAttributes []string
	JQExpression     string
}

// Prepare applies the rules to a payload and returns a normalized copy
// suitable for diffing. The input value is never mutated.
func (rules CompareRules) Prepare(value Value) (Value, error) {
	current := DeepClone(value)

	if obj, ok := AsObject(current); ok && len(rules.IgnoreAttributes) > 0 {
		for _, attr := range rules.IgnoreAttributes {
			key := strings.TrimSpace(attr)
			if key == "" {
				continue
			}
			delete(obj, key)
		}
		current = obj
	}

	expr := strings.TrimSpace(rules.JQExpression)
	if expr == "" {
		return current, nil
	}

	transformed, err := executeJQ(jqInput(current), expr)
	if err != nil {
		return nil, faults.NewTypedError(faults.ValidationError, "compare jq expression failed", err)
	}
	return Normalize(transformed)
}

func executeJQ(input any, expression string) (any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}
	iter := query.Run(input)

	var results []any
	for {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := value.(error); ok {
			return nil, err
		}
		results = append(results, value)
	}

	if len(results) == 0 {
		return nil, nil
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// gojq only accepts int and float64 numbers; the canonical tree uses int64.
func jqInput(value Value) any {
	switch typed := value.(type) {
	case int64:
		return int(typed)
	case map[string]any:
		converted := make(map[string]any, len(typed))
		for key, item := range typed {
			converted[key] = jqInput(item)
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for idx, item := range typed {
			converted[idx] = jqInput(item)
		}
		return converted
	default:
		return typed
	}
}

// DefaultCompareRules drop the attributes the platform assigns on every
// write so an untouched resource always diffs clean.
func DefaultCompareRules() CompareRules {
	return CompareRules{IgnoreAttributes: append([]string(nil), serverManagedAttributes...)}
}
