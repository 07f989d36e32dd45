package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/resource"
)

// validateDeclaration runs the kind-specific pre-plan checks. Failures
// here are local validation errors: they abort the resource before any
// plan exists and never show up as a failed apply.
func (o *Orchestrator) validateDeclaration(ctx context.Context, ref gateway.Ref, declaration resource.Declaration) error {
	if ref.Kind != gateway.KindScorecard {
		return nil
	}
	return o.validateScorecardProperties(ctx, ref, declaration)
}

// validateScorecardProperties checks that every property referenced by
// the scorecard's rules exists in the target blueprint's schema. A rule
// against a property the blueprint does not define would be accepted by
// the platform and silently never match.
func (o *Orchestrator) validateScorecardProperties(ctx context.Context, ref gateway.Ref, declaration resource.Declaration) error {
	blueprintRef := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: ref.Blueprint}
	blueprint, err := o.Gateway.Fetch(ctx, blueprintRef)
	if err != nil {
		return err
	}
	if blueprint == nil {
		return faults.NewTypedError(
			faults.ValidationError,
			fmt.Sprintf("blueprint %q targeted by scorecard %q does not exist", ref.Blueprint, ref.Identifier),
			nil,
		)
	}

	properties := blueprintSchemaProperties(blueprint.Payload)
	for _, property := range scorecardRuleProperties(declaration.Payload) {
		if strings.HasPrefix(property, "$") {
			// Platform-reserved properties are always available.
			continue
		}
		if _, found := properties[property]; !found {
			return faults.NewTypedError(
				faults.ValidationError,
				fmt.Sprintf(
					"scorecard %q references property %q which does not exist in blueprint %q",
					ref.Identifier, property, ref.Blueprint,
				),
				nil,
			)
		}
	}
	return nil
}

func blueprintSchemaProperties(payload resource.Value) map[string]struct{} {
	properties := make(map[string]struct{})
	obj, ok := resource.AsObject(payload)
	if !ok {
		return properties
	}
	schema, ok := resource.AsObject(obj["schema"])
	if !ok {
		return properties
	}
	schemaProperties, ok := resource.AsObject(schema["properties"])
	if !ok {
		return properties
	}
	for name := range schemaProperties {
		properties[name] = struct{}{}
	}
	return properties
}

func scorecardRuleProperties(payload resource.Value) []string {
	var referenced []string

	obj, ok := resource.AsObject(payload)
	if !ok {
		return referenced
	}
	rules, ok := resource.AsArray(obj["rules"])
	if !ok {
		return referenced
	}

	for _, rawRule := range rules {
		rule, ok := resource.AsObject(rawRule)
		if !ok {
			continue
		}
		query, ok := resource.AsObject(rule["query"])
		if !ok {
			continue
		}
		conditions, ok := resource.AsArray(query["conditions"])
		if !ok {
			continue
		}
		for _, rawCondition := range conditions {
			condition, ok := resource.AsObject(rawCondition)
			if !ok {
				continue
			}
			if property, ok := resource.AsString(condition["property"]); ok && property != "" {
				referenced = append(referenced, property)
			}
		}
	}
	return referenced
}
