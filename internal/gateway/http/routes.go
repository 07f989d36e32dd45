package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/resource"
)

// route maps one resource kind onto the platform's endpoint layout and
// response envelopes. An empty createPath marks an update-only kind.
type route struct {
	readPath     string
	createPath   string
	updatePath   string
	updateMethod string
	wrap         func(resource.Value) resource.Value
	unwrap       func(resource.Value) resource.Value
}

func routeFor(ref gateway.Ref) (route, error) {
	identifier := strings.TrimSpace(ref.Identifier)
	if identifier == "" {
		return route{}, faults.NewTypedError(faults.ValidationError, "resource identifier is required", nil)
	}

	switch ref.Kind {
	case gateway.KindBlueprint:
		return route{
			readPath:     "v1/blueprints/" + url.PathEscape(identifier),
			createPath:   "v1/blueprints",
			updatePath:   "v1/blueprints/" + url.PathEscape(identifier),
			updateMethod: http.MethodPut,
			wrap:         identity,
			unwrap:       unwrapKey("blueprint"),
		}, nil

	case gateway.KindScorecard:
		blueprint := strings.TrimSpace(ref.Blueprint)
		if blueprint == "" {
			return route{}, faults.NewTypedError(faults.ValidationError, "scorecard ref is missing its blueprint", nil)
		}
		base := "v1/blueprints/" + url.PathEscape(blueprint) + "/scorecards"
		return route{
			readPath:     base + "/" + url.PathEscape(identifier),
			createPath:   base,
			updatePath:   base + "/" + url.PathEscape(identifier),
			updateMethod: http.MethodPut,
			wrap:         identity,
			unwrap:       unwrapKey("scorecard"),
		}, nil

	case gateway.KindMapping:
		return route{
			readPath:     "v1/integration/" + url.PathEscape(identifier),
			updatePath:   "v1/integration/" + url.PathEscape(identifier) + "/config",
			updateMethod: http.MethodPatch,
			wrap:         wrapKey("config"),
			unwrap:       unwrapKeys("integration", "config"),
		}, nil
	}

	return route{}, faults.NewTypedError(
		faults.ValidationError,
		fmt.Sprintf("unknown resource kind %q", ref.Kind),
		nil,
	)
}

func identity(value resource.Value) resource.Value {
	return value
}

func wrapKey(key string) func(resource.Value) resource.Value {
	return func(value resource.Value) resource.Value {
		return map[string]any{key: value}
	}
}

func unwrapKey(key string) func(resource.Value) resource.Value {
	return unwrapKeys(key)
}

// unwrapKeys digs through nested response envelopes; a missing key leaves
// the value as-is so servers without envelopes still work.
func unwrapKeys(keys ...string) func(resource.Value) resource.Value {
	return func(value resource.Value) resource.Value {
		current := value
		for _, key := range keys {
			obj, ok := resource.AsObject(current)
			if !ok {
				return current
			}
			inner, found := obj[key]
			if !found {
				return current
			}
			current = inner
		}
		return current
	}
}
