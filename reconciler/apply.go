package reconciler

import (
	"context"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/resource"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ApplyResult reports what happened to one resource. Failed only ever
// wraps a remote mutation failure; local problems surface before a plan
// is built.
type ApplyResult struct {
	Ref     gateway.Ref
	Outcome Outcome
	Err     error
}

// Apply executes a confirmed plan with the minimal remote mutation: skip
// plans issue no call at all, creates and updates send the full payload
// (full-replace, not field-patch). Server-managed attributes are stripped
// before the payload leaves the engine. Callers must resolve the guard
// verdict before calling Apply; a blocked plan arrives here as a skip.
func Apply(
	ctx context.Context,
	remote gateway.RemoteStateGateway,
	plan Plan,
	payload resource.Value,
	opts gateway.MutateOptions,
) ApplyResult {
	result := ApplyResult{Ref: plan.Ref}

	switch plan.Action {
	case ActionSkip:
		result.Outcome = OutcomeSkipped
		return result
	case ActionCreate:
		outgoing := resource.StripServerManaged(payload)
		if _, err := remote.Create(ctx, plan.Ref, outgoing, opts); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = faults.NewTypedError(faults.CategoryOf(err), "create failed for "+plan.Ref.String(), err)
			return result
		}
		result.Outcome = OutcomeCreated
		return result
	case ActionUpdate:
		outgoing := resource.StripServerManaged(payload)
		if _, err := remote.Update(ctx, plan.Ref, outgoing, opts); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = faults.NewTypedError(faults.CategoryOf(err), "update failed for "+plan.Ref.String(), err)
			return result
		}
		result.Outcome = OutcomeUpdated
		return result
	}

	result.Outcome = OutcomeFailed
	result.Err = faults.NewTypedError(faults.InternalError, "unknown plan action "+string(plan.Action), nil)
	return result
}
