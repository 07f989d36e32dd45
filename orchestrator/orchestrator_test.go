package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/reconciler"
	"github.com/crmarques/portsync/resource"
)

type fakeGateway struct {
	mu      sync.Mutex
	remotes map[gateway.Ref]*resource.RemoteResource

	fetchErr error
	creates  map[gateway.Ref]int
	updates  map[gateway.Ref]int

	lastUpdatePayload resource.Value
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		remotes: make(map[gateway.Ref]*resource.RemoteResource),
		creates: make(map[gateway.Ref]int),
		updates: make(map[gateway.Ref]int),
	}
}

func (g *fakeGateway) Fetch(ctx context.Context, ref gateway.Ref) (*resource.RemoteResource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.remotes[ref], nil
}

func (g *fakeGateway) Create(ctx context.Context, ref gateway.Ref, payload resource.Value, opts gateway.MutateOptions) (resource.Value, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates[ref]++
	return payload, nil
}

func (g *fakeGateway) Update(ctx context.Context, ref gateway.Ref, payload resource.Value, opts gateway.MutateOptions) (resource.Value, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates[ref]++
	g.lastUpdatePayload = payload
	return payload, nil
}

func (g *fakeGateway) mutationCount(ref gateway.Ref) (creates int, updates int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates[ref], g.updates[ref]
}

type stubPrompter struct {
	confirm   bool
	summaries []string
}

func (p *stubPrompter) Confirm(summary string) (bool, error) {
	p.summaries = append(p.summaries, summary)
	return p.confirm, nil
}

func testOrchestrator(remote gateway.RemoteStateGateway, now time.Time) *Orchestrator {
	return &Orchestrator{
		Gateway: remote,
		Log:     logr.Discard(),
		Now:     func() time.Time { return now },
	}
}

func blueprintInput(identifier string, payload map[string]any) Input {
	return Input{
		Ref:         gateway.Ref{Kind: gateway.KindBlueprint, Identifier: identifier},
		Declaration: resource.Declaration{Identifier: identifier, Payload: payload, Source: identifier + ".json"},
	}
}

func TestReconcileCreatesMissingResource(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	orch := testOrchestrator(remote, now)

	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	inputs := []Input{blueprintInput("service", map[string]any{"identifier": "service", "title": "Service"})}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %#v", outcomes)
	}
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeCreated {
		t.Fatalf("expected created, got %#v", outcomes[0])
	}

	creates, updates := remote.mutationCount(ref)
	if creates != 1 || updates != 0 {
		t.Fatalf("expected exactly one create call, got %d creates and %d updates", creates, updates)
	}
}

func TestReconcileUnchangedResourceSkipsWithoutMutation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}

	remote := newFakeGateway()
	remote.remotes[ref] = &resource.RemoteResource{
		Payload: map[string]any{
			"identifier": "service",
			"title":      "Service",
			"createdAt":  "2026-01-01T00:00:00Z",
			"updatedAt":  "2026-01-01T00:00:00Z",
			"createdBy":  "machine-user",
		},
		Meta: resource.Meta{UpdatedAt: now.Add(-30 * 24 * time.Hour)},
	}

	orch := testOrchestrator(remote, now)
	inputs := []Input{blueprintInput("service", map[string]any{"identifier": "service", "title": "Service"})}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeSkipped {
		t.Fatalf("expected skipped, got %#v", outcomes[0])
	}
	if outcomes[0].Plan == nil || !outcomes[0].Plan.Changes.Empty() {
		t.Fatalf("server-managed attributes must not produce diffs, got %#v", outcomes[0].Plan)
	}

	creates, updates := remote.mutationCount(ref)
	if creates != 0 || updates != 0 {
		t.Fatalf("an unchanged resource must not be touched, got %d creates and %d updates", creates, updates)
	}
}

func TestReconcileBlocksFreshRemoteEdit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}

	remote := newFakeGateway()
	remote.remotes[ref] = &resource.RemoteResource{
		Payload: map[string]any{"identifier": "service", "title": "Edited In UI"},
		Meta:    resource.Meta{UpdatedAt: now.Add(-2 * time.Second)},
	}

	orch := testOrchestrator(remote, now)
	inputs := []Input{blueprintInput("service", map[string]any{"identifier": "service", "title": "From File"})}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{GuardThreshold: 300 * time.Second})
	outcome := outcomes[0]
	if outcome.Plan == nil || !outcome.Plan.BlockedUpdate() {
		t.Fatalf("expected a blocked update, got %#v", outcome)
	}
	if outcome.Apply == nil || outcome.Apply.Outcome != reconciler.OutcomeSkipped {
		t.Fatalf("a blocked plan must resolve to a skip, got %#v", outcome)
	}

	creates, updates := remote.mutationCount(ref)
	if creates != 0 || updates != 0 {
		t.Fatalf("a blocked resource must not be touched, got %d creates and %d updates", creates, updates)
	}
}

func TestReconcileForceOverridesGuard(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}

	remote := newFakeGateway()
	remote.remotes[ref] = &resource.RemoteResource{
		Payload: map[string]any{"identifier": "service", "title": "Edited In UI"},
		Meta:    resource.Meta{UpdatedAt: now.Add(-2 * time.Second)},
	}

	orch := testOrchestrator(remote, now)
	inputs := []Input{blueprintInput("service", map[string]any{"identifier": "service", "title": "From File"})}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{Force: true, GuardThreshold: 300 * time.Second})
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeUpdated {
		t.Fatalf("expected force to push the update through, got %#v", outcomes[0])
	}
}

func TestReconcileMergeConflictFailsGroupOnly(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	blueprintRef := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	remote.remotes[blueprintRef] = &resource.RemoteResource{
		Payload: map[string]any{
			"identifier": "service",
			"schema":     map[string]any{"properties": map[string]any{"language": map[string]any{"type": "string"}}},
		},
	}

	scorecardRef := gateway.Ref{Kind: gateway.KindScorecard, Blueprint: "service", Identifier: "quality"}
	scorecardFragment := func(source string, target string) Input {
		return Input{
			Ref: scorecardRef,
			Declaration: resource.Declaration{
				Identifier: "quality",
				Payload:    map[string]any{"identifier": "quality", "target": target},
				Source:     source,
			},
		}
	}

	orch := testOrchestrator(remote, now)
	inputs := []Input{
		scorecardFragment("a.json", "gold"),
		scorecardFragment("b.json", "silver"),
		blueprintInput("service", map[string]any{
			"identifier": "service",
			"schema":     map[string]any{"properties": map[string]any{"language": map[string]any{"type": "string"}}},
		}),
	}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if len(outcomes) != 2 {
		t.Fatalf("expected the fragments to form one group, got %#v", outcomes)
	}

	var scorecardOutcome, blueprintOutcome Outcome
	for _, outcome := range outcomes {
		switch outcome.Ref.Kind {
		case gateway.KindScorecard:
			scorecardOutcome = outcome
		case gateway.KindBlueprint:
			blueprintOutcome = outcome
		}
	}

	if !faults.IsCategory(scorecardOutcome.Err, faults.MergeConflictError) {
		t.Fatalf("expected a merge conflict for the scorecard group, got %#v", scorecardOutcome.Err)
	}
	if blueprintOutcome.Failed() {
		t.Fatalf("the blueprint must proceed despite the scorecard conflict, got %#v", blueprintOutcome)
	}
}

func TestReconcileMergesScorecardFragments(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	blueprintRef := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	remote.remotes[blueprintRef] = &resource.RemoteResource{
		Payload: map[string]any{
			"identifier": "service",
			"schema":     map[string]any{"properties": map[string]any{"language": map[string]any{"type": "string"}}},
		},
	}

	scorecardRef := gateway.Ref{Kind: gateway.KindScorecard, Blueprint: "service", Identifier: "quality"}
	inputs := []Input{
		{
			Ref: scorecardRef,
			Declaration: resource.Declaration{
				Identifier: "quality",
				Payload:    map[string]any{"identifier": "quality", "title": "Quality"},
				Source:     "a.json",
			},
		},
		{
			Ref: scorecardRef,
			Declaration: resource.Declaration{
				Identifier: "quality",
				Payload:    map[string]any{"identifier": "quality", "filter": map[string]any{"combinator": "and"}},
				Source:     "b.json",
			},
		},
	}

	orch := testOrchestrator(remote, now)
	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if len(outcomes) != 1 {
		t.Fatalf("expected the fragments to reconcile as one resource, got %#v", outcomes)
	}
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeCreated {
		t.Fatalf("expected the merged scorecard to be created, got %#v", outcomes[0])
	}

	creates, _ := remote.mutationCount(scorecardRef)
	if creates != 1 {
		t.Fatalf("expected one create for the merged scorecard, got %d", creates)
	}
}

func TestReconcileDryRunStopsAtPlan(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	orch := testOrchestrator(remote, now)

	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	inputs := []Input{blueprintInput("service", map[string]any{"identifier": "service"})}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{DryRun: true})
	outcome := outcomes[0]
	if outcome.Plan == nil || outcome.Plan.Action != reconciler.ActionCreate {
		t.Fatalf("expected a create plan, got %#v", outcome)
	}
	if outcome.Apply != nil {
		t.Fatalf("dry run must not apply, got %#v", outcome.Apply)
	}

	creates, updates := remote.mutationCount(ref)
	if creates != 0 || updates != 0 {
		t.Fatalf("dry run must not touch the remote, got %d creates and %d updates", creates, updates)
	}
}

func TestReconcileDeclinedPromptLeavesResourceUntouched(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	prompter := &stubPrompter{confirm: false}
	orch := testOrchestrator(remote, now)
	orch.Prompter = prompter

	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	inputs := []Input{blueprintInput("service", map[string]any{"identifier": "service"})}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{Prompt: true})
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeSkipped {
		t.Fatalf("expected a declined plan to skip, got %#v", outcomes[0])
	}
	if len(prompter.summaries) != 1 {
		t.Fatalf("expected exactly one confirmation, got %#v", prompter.summaries)
	}

	creates, updates := remote.mutationCount(ref)
	if creates != 0 || updates != 0 {
		t.Fatalf("a declined resource must not be touched, got %d creates and %d updates", creates, updates)
	}
}

func TestReconcileLoadErrorIsolatedFromBatch(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	orch := testOrchestrator(remote, now)

	loadErr := faults.NewTypedError(faults.LoadError, "broken.json: unexpected end of input", nil)
	inputs := []Input{
		{Ref: gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "broken.json"}, LoadErr: loadErr},
		blueprintInput("service", map[string]any{"identifier": "service"}),
	}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if len(outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %#v", outcomes)
	}

	var failed, created int
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			if !faults.IsCategory(outcome.Err, faults.LoadError) {
				t.Fatalf("expected the load error to surface, got %#v", outcome.Err)
			}
			continue
		}
		if outcome.Apply != nil && outcome.Apply.Outcome == reconciler.OutcomeCreated {
			created++
		}
	}
	if failed != 1 || created != 1 {
		t.Fatalf("expected one failure and one create, got %#v", outcomes)
	}
	if !AggregateFailed(outcomes) {
		t.Fatalf("a load failure must flip the aggregate status")
	}
}

func TestReconcileMappingRequiresExistingIntegration(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	orch := testOrchestrator(remote, now)

	ref := gateway.Ref{Kind: gateway.KindMapping, Identifier: "github-exporter"}
	inputs := []Input{{
		Ref: ref,
		Declaration: resource.Declaration{
			Identifier: "github-exporter",
			Payload:    map[string]any{"resources": []any{}},
			Source:     "mapping.yaml",
		},
	}}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if !faults.IsCategory(outcomes[0].Err, faults.NotFoundError) {
		t.Fatalf("expected a not-found error for a missing integration, got %#v", outcomes[0].Err)
	}

	creates, updates := remote.mutationCount(ref)
	if creates != 0 || updates != 0 {
		t.Fatalf("mappings must never create integrations, got %d creates and %d updates", creates, updates)
	}
}

func TestReconcileMappingOverlaysRemoteConfig(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := gateway.Ref{Kind: gateway.KindMapping, Identifier: "github-exporter"}

	remote := newFakeGateway()
	remote.remotes[ref] = &resource.RemoteResource{
		Payload: map[string]any{
			"deleteDependentEntities": true,
			"resources":               []any{map[string]any{"kind": "repository"}},
		},
		Meta: resource.Meta{UpdatedAt: now.Add(-48 * time.Hour)},
	}

	orch := testOrchestrator(remote, now)
	inputs := []Input{{
		Ref: ref,
		Declaration: resource.Declaration{
			Identifier: "github-exporter",
			Payload:    map[string]any{"resources": []any{map[string]any{"kind": "pull-request"}}},
			Source:     "mapping.yaml",
		},
	}}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeUpdated {
		t.Fatalf("expected an update, got %#v", outcomes[0])
	}

	sent, ok := resource.AsObject(remote.lastUpdatePayload)
	if !ok {
		t.Fatalf("expected an object payload, got %#v", remote.lastUpdatePayload)
	}
	if sent["deleteDependentEntities"] != true {
		t.Fatalf("remote-owned keys must survive the overlay, got %#v", sent)
	}
	resources, _ := resource.AsArray(sent["resources"])
	if len(resources) != 1 {
		t.Fatalf("expected the declared resources list, got %#v", sent["resources"])
	}
	declared, _ := resource.AsObject(resources[0])
	if declared["kind"] != "pull-request" {
		t.Fatalf("declared keys must win the overlay, got %#v", sent)
	}
}

func TestReconcileMappingDiffsResourcesByKind(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := gateway.Ref{Kind: gateway.KindMapping, Identifier: "github-exporter"}

	remote := newFakeGateway()
	remote.remotes[ref] = &resource.RemoteResource{
		Payload: map[string]any{
			"resources": []any{
				map[string]any{"kind": "repository", "selector": map[string]any{"query": "true"}},
				map[string]any{"kind": "issue", "selector": map[string]any{"query": "true"}},
			},
		},
		Meta: resource.Meta{UpdatedAt: now.Add(-48 * time.Hour)},
	}

	orch := testOrchestrator(remote, now)
	inputs := []Input{{
		Ref: ref,
		Declaration: resource.Declaration{
			Identifier: "github-exporter",
			Payload: map[string]any{
				"resources": []any{
					map[string]any{"kind": "repository", "selector": map[string]any{"query": "false"}},
				},
			},
			Source: "mapping.yaml",
		},
	}}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if outcomes[0].Plan == nil {
		t.Fatalf("expected a plan, got %#v", outcomes[0])
	}

	pointers := make(map[string]reconciler.DiffOp, len(outcomes[0].Plan.Changes))
	for _, diff := range outcomes[0].Plan.Changes {
		pointers[diff.Pointer()] = diff.Op
	}
	if pointers["/resources/repository/selector/query"] != reconciler.DiffModified {
		t.Fatalf("expected a kind-keyed modification, got %#v", pointers)
	}
	if pointers["/resources/issue"] != reconciler.DiffRemoved {
		t.Fatalf("expected the undeclared kind reported as removed, got %#v", pointers)
	}
}

func TestReconcileScorecardRejectsUnknownProperty(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	blueprintRef := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	remote.remotes[blueprintRef] = &resource.RemoteResource{
		Payload: map[string]any{
			"identifier": "service",
			"schema":     map[string]any{"properties": map[string]any{"language": map[string]any{"type": "string"}}},
		},
	}

	orch := testOrchestrator(remote, now)
	scorecardRef := gateway.Ref{Kind: gateway.KindScorecard, Blueprint: "service", Identifier: "quality"}
	inputs := []Input{{
		Ref: scorecardRef,
		Declaration: resource.Declaration{
			Identifier: "quality",
			Payload: map[string]any{
				"identifier": "quality",
				"rules": []any{
					map[string]any{
						"identifier": "usesGo",
						"query": map[string]any{
							"conditions": []any{
								map[string]any{"property": "framework", "operator": "=", "value": "gin"},
							},
						},
					},
				},
			},
			Source: "quality.json",
		},
	}}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if !faults.IsCategory(outcomes[0].Err, faults.ValidationError) {
		t.Fatalf("expected a validation error for an unknown property, got %#v", outcomes[0].Err)
	}
}

func TestReconcileScorecardAllowsReservedProperties(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := newFakeGateway()
	blueprintRef := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}
	remote.remotes[blueprintRef] = &resource.RemoteResource{
		Payload: map[string]any{
			"identifier": "service",
			"schema":     map[string]any{"properties": map[string]any{}},
		},
	}

	orch := testOrchestrator(remote, now)
	scorecardRef := gateway.Ref{Kind: gateway.KindScorecard, Blueprint: "service", Identifier: "quality"}
	inputs := []Input{{
		Ref: scorecardRef,
		Declaration: resource.Declaration{
			Identifier: "quality",
			Payload: map[string]any{
				"identifier": "quality",
				"rules": []any{
					map[string]any{
						"identifier": "hasIdentifier",
						"query": map[string]any{
							"conditions": []any{
								map[string]any{"property": "$identifier", "operator": "isNotEmpty"},
							},
						},
					},
				},
			},
			Source: "quality.json",
		},
	}}

	outcomes := orch.Reconcile(context.Background(), inputs, Options{})
	if outcomes[0].Err != nil {
		t.Fatalf("reserved properties must pass validation, got %#v", outcomes[0].Err)
	}
	if outcomes[0].Apply == nil || outcomes[0].Apply.Outcome != reconciler.OutcomeCreated {
		t.Fatalf("expected the scorecard to be created, got %#v", outcomes[0])
	}
}

func TestSortOutcomesOrdersByRef(t *testing.T) {
	t.Parallel()

	outcomes := []Outcome{
		{Ref: gateway.Ref{Kind: gateway.KindScorecard, Blueprint: "service", Identifier: "quality"}},
		{Ref: gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "service"}},
		{Ref: gateway.Ref{Kind: gateway.KindBlueprint, Identifier: "domain"}},
	}

	SortOutcomes(outcomes)
	if outcomes[0].Ref.Identifier != "domain" || outcomes[1].Ref.Identifier != "service" {
		t.Fatalf("unexpected order: %#v", outcomes)
	}
	if outcomes[2].Ref.Kind != gateway.KindScorecard {
		t.Fatalf("unexpected order: %#v", outcomes)
	}
}
