package resource

import (
	"strings"
	"time"

	"github.com/crmarques/portsync/faults"
)

// Declaration is one resource's desired configuration, loaded from a local
// file (or merged from several) and immutable for the duration of a
// reconciliation pass.
type Declaration struct {
	Identifier string
	Payload    Value
	Source     string
}

// RemoteResource is the live definition the platform currently holds, plus
// the platform-assigned metadata used by the change guard.
type RemoteResource struct {
	Payload Value
	Meta    Meta
}

type Meta struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
}

// serverManagedAttributes are assigned by the platform on every write and
// never belong in a diff between desired and live state.
var serverManagedAttributes = []string{"createdAt", "updatedAt", "createdBy", "updatedBy"}

// NewDeclaration normalizes a decoded payload and extracts its identifier.
func NewDeclaration(value Value, source string) (Declaration, error) {
	normalized, err := Normalize(value)
	if err != nil {
		return Declaration{}, err
	}

	obj, ok := AsObject(normalized)
	if !ok {
		return Declaration{}, faults.NewTypedError(
			faults.LoadError,
			"declaration payload must be a mapping",
			nil,
		)
	}

	identifier, _ := AsString(obj["identifier"])
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Declaration{}, faults.NewTypedError(
			faults.LoadError,
			"declaration is missing the required identifier field",
			nil,
		)
	}

	return Declaration{
		Identifier: identifier,
		Payload:    normalized,
		Source:     source,
	}, nil
}

// NewRemoteResource normalizes a fetched payload and lifts the
// server-managed timestamps into Meta.
func NewRemoteResource(value Value) (RemoteResource, error) {
	normalized, err := Normalize(value)
	if err != nil {
		return RemoteResource{}, err
	}

	remote := RemoteResource{Payload: normalized}
	obj, ok := AsObject(normalized)
	if !ok {
		return remote, nil
	}

	remote.Meta.CreatedAt = parseTimestamp(obj["createdAt"])
	remote.Meta.UpdatedAt = parseTimestamp(obj["updatedAt"])
	remote.Meta.CreatedBy, _ = AsString(obj["createdBy"])
	remote.Meta.UpdatedBy, _ = AsString(obj["updatedBy"])
	return remote, nil
}

func parseTimestamp(value Value) time.Time {
	raw, ok := AsString(value)
	if !ok {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// StripServerManaged removes platform-assigned attributes from the top
// level of a payload so they never appear in diffs or outgoing mutations.
func StripServerManaged(value Value) Value {
	obj, ok := AsObject(value)
	if !ok {
		return value
	}

	cleaned := make(map[string]any, len(obj))
	for key, item := range obj {
		cleaned[key] = item
	}
	for _, attr := range serverManagedAttributes {
		delete(cleaned, attr)
	}
	return cleaned
}
