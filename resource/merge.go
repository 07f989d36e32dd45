package resource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crmarques/portsync/faults"
)

// MergeDeclarations folds several declarations targeting the same remote
// resource into one. Fields present in exactly one input are taken as-is;
// a field declared by two inputs with different values is a merge
// conflict, not a last-write-wins.
func MergeDeclarations(declarations []Declaration) (Declaration, error) {
	if len(declarations) == 0 {
		return Declaration{}, faults.NewTypedError(faults.InternalError, "no declarations to merge", nil)
	}
	if len(declarations) == 1 {
		return declarations[0], nil
	}

	merged := Declaration{
		Identifier: declarations[0].Identifier,
		Payload:    DeepClone(declarations[0].Payload),
		Source:     declarations[0].Source,
	}

	for _, declaration := range declarations[1:] {
		if declaration.Identifier != merged.Identifier {
			return Declaration{}, faults.NewTypedError(
				faults.MergeConflictError,
				fmt.Sprintf(
					"cannot merge declarations for %q and %q",
					merged.Identifier, declaration.Identifier,
				),
				nil,
			)
		}

		payload, err := mergeValues(merged.Payload, declaration.Payload, "")
		if err != nil {
			return Declaration{}, faults.NewTypedError(
				faults.MergeConflictError,
				fmt.Sprintf(
					"conflicting declarations from %s and %s",
					merged.Source, declaration.Source,
				),
				err,
			)
		}
		merged.Payload = payload
		merged.Source = merged.Source + "," + declaration.Source
	}

	return merged, nil
}

func mergeValues(base Value, overlay Value, path string) (Value, error) {
	baseObject, baseIsObject := AsObject(base)
	overlayObject, overlayIsObject := AsObject(overlay)
	if baseIsObject && overlayIsObject {
		keys := make([]string, 0, len(overlayObject))
		for key := range overlayObject {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			childPath := path + "/" + key
			existing, found := baseObject[key]
			if !found {
				baseObject[key] = DeepClone(overlayObject[key])
				continue
			}
			mergedChild, err := mergeValues(existing, overlayObject[key], childPath)
			if err != nil {
				return nil, err
			}
			baseObject[key] = mergedChild
		}
		return baseObject, nil
	}

	if DeepEqual(base, overlay) {
		return base, nil
	}

	if path == "" {
		path = "/"
	}
	return nil, fmt.Errorf("field %s declared with different values", strings.TrimSuffix(path, "/"))
}
