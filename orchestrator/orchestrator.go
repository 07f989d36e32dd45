package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/reconciler"
	"github.com/crmarques/portsync/resource"
)

const defaultConcurrency = 4

// Input is one loaded declaration headed for reconciliation. A file that
// failed to load still produces an Input so the batch report covers it;
// LoadErr carries the failure and skips the pipeline for that entry.
type Input struct {
	Ref         gateway.Ref
	Declaration resource.Declaration
	LoadErr     error
}

// Options carry the per-run knobs. The guard threshold is configuration,
// never a hardcoded constant.
type Options struct {
	DryRun         bool
	Force          bool
	Prompt         bool
	Prune          bool
	GuardThreshold time.Duration
	Concurrency    int
	CompareRules   map[gateway.Kind]resource.CompareRules
}

func (o Options) threshold() time.Duration {
	if o.GuardThreshold <= 0 {
		return reconciler.DefaultGuardThreshold
	}
	return o.GuardThreshold
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return defaultConcurrency
	}
	return o.Concurrency
}

func (o Options) compareRules(kind gateway.Kind) resource.CompareRules {
	if rules, found := o.CompareRules[kind]; found {
		return rules
	}
	return resource.DefaultCompareRules()
}

// Outcome is the per-resource result of one pass. Err holds failures that
// happen before any remote mutation (load, merge, fetch, validation);
// Apply is set once a plan was executed (or would have been, for skips).
// Dry runs stop at Plan.
type Outcome struct {
	Ref     gateway.Ref
	Summary string
	Plan    *reconciler.Plan
	Apply   *reconciler.ApplyResult
	Err     error
}

// Failed reports whether this outcome must flip the aggregate exit status.
func (o Outcome) Failed() bool {
	if o.Err != nil {
		return true
	}
	return o.Apply != nil && o.Apply.Outcome == reconciler.OutcomeFailed
}

// Prompter gates the suspension point between plan production and apply.
// Confirmation always happens strictly before the mutation call.
type Prompter interface {
	Confirm(summary string) (bool, error)
}

// Orchestrator sequences fetch, diff, guard, plan, and apply for each
// input, isolating failures so one bad resource never aborts the batch.
type Orchestrator struct {
	Gateway  gateway.RemoteStateGateway
	Prompter Prompter
	Renderer reconciler.Renderer
	Log      logr.Logger
	Metrics  *Metrics
	Now      func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) renderer() reconciler.Renderer {
	if o.Renderer != nil {
		return o.Renderer
	}
	return reconciler.TextRenderer{}
}

// Reconcile runs every input (or merged input group) through the pipeline
// and returns one outcome per group, in a stable order. Independent
// groups run concurrently; within a group the pipeline is strictly
// sequential.
func (o *Orchestrator) Reconcile(ctx context.Context, inputs []Input, opts Options) []Outcome {
	runID := uuid.NewString()
	log := o.Log.WithValues("run", runID)

	groups := groupInputs(inputs)
	outcomes := make([]Outcome, len(groups))

	grp, grpCtx := errgroup.WithContext(ctx)
	limit := opts.concurrency()
	if opts.Prompt {
		// Interactive confirmation serializes the run; overlapping prompts
		// would interleave with in-flight mutations.
		limit = 1
	}
	grp.SetLimit(limit)

	tracer := otel.Tracer("portsync/orchestrator")
	for idx, group := range groups {
		grp.Go(func() error {
			spanCtx, span := tracer.Start(grpCtx, "reconcile",
				trace.WithAttributes(
					attribute.String("resource.ref", group.ref.String()),
					attribute.String("run.id", runID),
				))
			defer span.End()

			outcomes[idx] = o.reconcileGroup(spanCtx, log, group, opts)
			return nil
		})
	}
	_ = grp.Wait()

	for _, outcome := range outcomes {
		o.Metrics.observeOutcome(outcome)
	}
	return outcomes
}

type inputGroup struct {
	ref    gateway.Ref
	inputs []Input
}

// groupInputs buckets aggregatable inputs (scorecard fragments sharing a
// target) while keeping first-seen order across groups.
func groupInputs(inputs []Input) []inputGroup {
	order := make([]gateway.Ref, 0, len(inputs))
	buckets := make(map[gateway.Ref][]Input, len(inputs))

	for _, input := range inputs {
		if _, seen := buckets[input.Ref]; !seen {
			order = append(order, input.Ref)
		}
		buckets[input.Ref] = append(buckets[input.Ref], input)
	}

	groups := make([]inputGroup, 0, len(order))
	for _, ref := range order {
		groups = append(groups, inputGroup{ref: ref, inputs: buckets[ref]})
	}
	return groups
}

// AggregateFailed reports whether any outcome in the batch failed, for
// exit-code mapping by the caller.
func AggregateFailed(outcomes []Outcome) bool {
	for _, outcome := range outcomes {
		if outcome.Failed() {
			return true
		}
	}
	return false
}

// SortOutcomes orders a batch report by resource reference.
func SortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Ref.String() < outcomes[j].Ref.String()
	})
}
