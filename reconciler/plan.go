package reconciler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/crmarques/portsync/gateway"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Plan is the pure description of what one reconciliation pass intends to
// do to one remote resource. Building a plan has no side effects; a
// blocked update keeps its change set so callers can render "update
// available but blocked" distinctly from "no changes".
type Plan struct {
	Ref     gateway.Ref
	Action  Action
	Changes ChangeSet
	Verdict GuardVerdict
}

// BuildPlan folds a change set and a guard verdict into an action. The
// remote being absent always yields a create; an empty change set always
// yields a skip; a blocked verdict turns a would-be update into a skip
// while retaining the change set and the block reason.
func BuildPlan(ref gateway.Ref, changes ChangeSet, remotePresent bool, verdict GuardVerdict) Plan {
	plan := Plan{
		Ref:     ref,
		Changes: changes,
		Verdict: verdict,
	}

	switch {
	case !remotePresent:
		plan.Action = ActionCreate
		plan.Verdict = Allow()
	case changes.Empty():
		plan.Action = ActionSkip
	case verdict.Blocked:
		plan.Action = ActionSkip
	default:
		plan.Action = ActionUpdate
	}

	return plan
}

// BlockedUpdate reports whether the plan skipped only because the change
// guard refused the overwrite.
func (p Plan) BlockedUpdate() bool {
	return p.Action == ActionSkip && p.Verdict.Blocked && !p.Changes.Empty()
}

// Renderer turns a plan into human-readable text. Injected rather than
// global so plan logic stays testable without capturing output.
type Renderer interface {
	RenderPlan(plan Plan) string
}

// TextRenderer writes one line per field diff in a uniform style:
// additions as "+ path: value", removals as "- path: value", and
// modifications as "path: - old / + new".
type TextRenderer struct{}

func (TextRenderer) RenderPlan(plan Plan) string {
	var lines []string

	switch plan.Action {
	case ActionCreate:
		lines = append(lines, fmt.Sprintf("create %s", plan.Ref))
	case ActionUpdate:
		lines = append(lines, fmt.Sprintf("update %s", plan.Ref))
	case ActionSkip:
		if plan.BlockedUpdate() {
			lines = append(lines, fmt.Sprintf("update available for %s but blocked: %s", plan.Ref, plan.Verdict.Reason))
		} else {
			lines = append(lines, fmt.Sprintf("no changes for %s", plan.Ref))
		}
	}

	for _, diff := range plan.Changes {
		lines = append(lines, renderDiffLine(diff))
	}

	return strings.Join(lines, "\n")
}

func renderDiffLine(diff FieldDiff) string {
	pointer := diff.Pointer()
	if pointer == "" {
		pointer = "/"
	}

	switch diff.Op {
	case DiffAdded:
		return fmt.Sprintf("  + %s: %s", pointer, renderValue(diff.New))
	case DiffRemoved:
		return fmt.Sprintf("  - %s: %s", pointer, renderValue(diff.Old))
	default:
		return fmt.Sprintf("  %s: - %s / + %s", pointer, renderValue(diff.Old), renderValue(diff.New))
	}
}

func renderValue(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}
