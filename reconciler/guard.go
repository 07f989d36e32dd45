package reconciler

import (
	"fmt"
	"time"

	"github.com/crmarques/portsync/resource"
)

// DefaultGuardThreshold matches the platform's UI edit window: a remote
// resource touched within the last day is assumed to hold a change the
// local files do not reflect yet.
const DefaultGuardThreshold = 24 * time.Hour

// GuardVerdict reports whether a direct overwrite of the remote resource
// is safe. A blocked verdict never downgrades on its own; only an
// explicit force flag at plan-build time bypasses it.
type GuardVerdict struct {
	Blocked         bool
	Reason          string
	RemoteUpdatedAt time.Time
	Age             time.Duration
	Threshold       time.Duration
}

func Allow() GuardVerdict {
	return GuardVerdict{}
}

// EvaluateGuard protects against clobbering an out-of-band edit made
// moments ago through the platform's own interface. Absent remote state
// or an unknown update timestamp there is nothing to protect.
func EvaluateGuard(remote *resource.RemoteResource, forced bool, threshold time.Duration, now time.Time) GuardVerdict {
	if remote == nil || forced {
		return Allow()
	}

	updatedAt := remote.Meta.UpdatedAt
	if updatedAt.IsZero() {
		return Allow()
	}

	age := now.Sub(updatedAt)
	if age >= threshold {
		return Allow()
	}

	return GuardVerdict{
		Blocked: true,
		Reason: fmt.Sprintf(
			"remote resource modified %s ago, more recently than the %s threshold",
			age.Round(time.Second), threshold,
		),
		RemoteUpdatedAt: updatedAt,
		Age:             age,
		Threshold:       threshold,
	}
}
