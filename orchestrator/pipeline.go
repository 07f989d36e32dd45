package orchestrator

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/reconciler"
	"github.com/crmarques/portsync/resource"
)

func (o *Orchestrator) reconcileGroup(ctx context.Context, log logr.Logger, group inputGroup, opts Options) Outcome {
	outcome := Outcome{Ref: group.ref}
	log = log.WithValues("resource", group.ref.String())

	declarations := make([]resource.Declaration, 0, len(group.inputs))
	for _, input := range group.inputs {
		if input.LoadErr != nil {
			outcome.Err = input.LoadErr
			log.Error(input.LoadErr, "declaration failed to load", "source", input.Declaration.Source)
			return outcome
		}
		declarations = append(declarations, input.Declaration)
	}

	merged, err := resource.MergeDeclarations(declarations)
	if err != nil {
		outcome.Err = err
		log.Error(err, "declaration merge failed")
		return outcome
	}

	return o.reconcileOne(ctx, log, group.ref, merged, opts)
}

func (o *Orchestrator) reconcileOne(
	ctx context.Context,
	log logr.Logger,
	ref gateway.Ref,
	declaration resource.Declaration,
	opts Options,
) Outcome {
	outcome := Outcome{Ref: ref}

	if err := o.validateDeclaration(ctx, ref, declaration); err != nil {
		outcome.Err = err
		log.Error(err, "declaration validation failed")
		return outcome
	}

	remote, err := o.Gateway.Fetch(ctx, ref)
	if err != nil {
		outcome.Err = err
		log.Error(err, "remote fetch failed")
		return outcome
	}

	if remote == nil && ref.Kind == gateway.KindMapping {
		// Integrations are provisioned out of band; mappings only ever
		// update the config of an existing one.
		outcome.Err = faults.NewTypedError(
			faults.NotFoundError,
			"integration "+ref.Identifier+" does not exist; mappings cannot create it",
			nil,
		)
		log.Error(outcome.Err, "integration missing")
		return outcome
	}

	plan, desired, err := o.buildPlan(ref, declaration, remote, opts)
	if err != nil {
		outcome.Err = err
		log.Error(err, "plan build failed")
		return outcome
	}
	outcome.Plan = &plan
	outcome.Summary = o.renderer().RenderPlan(plan)
	log.V(1).Info("plan built", "action", plan.Action, "changes", len(plan.Changes))

	if opts.DryRun {
		log.Info("dry run, stopping at plan", "action", plan.Action)
		return outcome
	}

	if opts.Prompt && plan.Action != reconciler.ActionSkip {
		confirmed, err := o.Prompter.Confirm(outcome.Summary)
		if err != nil {
			outcome.Err = faults.NewTypedError(faults.InternalError, "confirmation prompt failed", err)
			return outcome
		}
		if !confirmed {
			log.Info("declined by operator, resource left untouched")
			outcome.Apply = &reconciler.ApplyResult{Ref: ref, Outcome: reconciler.OutcomeSkipped}
			return outcome
		}
	}

	result := reconciler.Apply(ctx, o.Gateway, plan, desired, gateway.MutateOptions{Prune: opts.Prune})
	outcome.Apply = &result
	if result.Err != nil {
		log.Error(result.Err, "apply failed")
	} else {
		log.Info("applied", "outcome", result.Outcome)
	}
	return outcome
}

// buildPlan computes the desired payload, the change set, and the guard
// verdict for one resource. The desired payload is what a create or
// update will send; for integration mappings it is the remote config with
// the local declaration overlaid, since the platform owns keys the local
// file never mentions.
func (o *Orchestrator) buildPlan(
	ref gateway.Ref,
	declaration resource.Declaration,
	remote *resource.RemoteResource,
	opts Options,
) (reconciler.Plan, resource.Value, error) {
	desired := declaration.Payload
	if ref.Kind == gateway.KindMapping && remote != nil {
		desired = overlayMapping(remote.Payload, declaration.Payload)
	}

	if remote == nil {
		plan := reconciler.BuildPlan(ref, reconciler.CreateChangeSet(desired), false, reconciler.Allow())
		return plan, desired, nil
	}

	rules := opts.compareRules(ref.Kind)
	preparedDesired, err := rules.Prepare(desired)
	if err != nil {
		return reconciler.Plan{}, nil, err
	}
	preparedRemote, err := rules.Prepare(remote.Payload)
	if err != nil {
		return reconciler.Plan{}, nil, err
	}

	if ref.Kind == gateway.KindMapping {
		preparedDesired = keyMappingResources(preparedDesired)
		preparedRemote = keyMappingResources(preparedRemote)
	}

	changes := reconciler.Diff(preparedDesired, preparedRemote)
	verdict := reconciler.EvaluateGuard(remote, opts.Force, opts.threshold(), o.now())
	plan := reconciler.BuildPlan(ref, changes, true, verdict)
	return plan, desired, nil
}

// keyMappingResources reshapes an integration config's resources list
// into a map keyed by source kind, so plans report added, removed, and
// changed kinds instead of positional list diffs. Entries without a
// distinct kind fall back to the positional form.
func keyMappingResources(value resource.Value) resource.Value {
	obj, ok := resource.AsObject(value)
	if !ok {
		return value
	}
	items, ok := resource.AsArray(obj["resources"])
	if !ok {
		return value
	}

	keyed := make(map[string]any, len(items))
	for _, item := range items {
		entry, ok := resource.AsObject(item)
		if !ok {
			return value
		}
		kind, _ := resource.AsString(entry["kind"])
		if kind == "" {
			return value
		}
		if _, duplicate := keyed[kind]; duplicate {
			return value
		}
		keyed[kind] = entry
	}

	reshaped := make(map[string]any, len(obj))
	for key, item := range obj {
		reshaped[key] = item
	}
	reshaped["resources"] = keyed
	return reshaped
}

// overlayMapping builds the desired integration config: start from the
// live remote config and replace every top-level key the local file
// declares. Local is source of truth for declared keys only.
func overlayMapping(remote resource.Value, local resource.Value) resource.Value {
	remoteObject, remoteIsObject := resource.AsObject(remote)
	localObject, localIsObject := resource.AsObject(local)
	if !remoteIsObject || !localIsObject {
		return local
	}

	desired, _ := resource.AsObject(resource.DeepClone(remoteObject))
	for key, value := range localObject {
		desired[key] = resource.DeepClone(value)
	}
	return desired
}
