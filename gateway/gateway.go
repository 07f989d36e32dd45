package gateway

import (
	"context"

	"github.com/crmarques/portsync/resource"
)

// Kind names one reconcilable resource type on the remote platform.
type Kind string

const (
	KindBlueprint Kind = "blueprint"
	KindScorecard Kind = "scorecard"
	KindMapping   Kind = "mapping"
)

// Ref locates one remote resource. Scorecards live under a blueprint, so
// their refs carry both identifiers; blueprints and integration mappings
// only use Identifier.
type Ref struct {
	Kind       Kind
	Blueprint  string
	Identifier string
}

func (r Ref) String() string {
	if r.Kind == KindScorecard && r.Blueprint != "" {
		return string(r.Kind) + "/" + r.Blueprint + "/" + r.Identifier
	}
	return string(r.Kind) + "/" + r.Identifier
}

// MutateOptions carry the flags the engine passes through to the platform
// untouched.
type MutateOptions struct {
	// Prune asks the platform to delete dependents that the new definition
	// no longer covers. The engine never interprets it.
	Prune bool
}

// RemoteStateGateway fetches and mutates live platform state. Fetch
// reports a missing resource as (nil, nil); every failure carries a
// faults.ErrorCategory so callers can tell auth, validation, and
// transport problems apart.
type RemoteStateGateway interface {
	Fetch(ctx context.Context, ref Ref) (*resource.RemoteResource, error)
	Create(ctx context.Context, ref Ref, payload resource.Value, opts MutateOptions) (resource.Value, error)
	Update(ctx context.Context, ref Ref, payload resource.Value, opts MutateOptions) (resource.Value, error)
}
