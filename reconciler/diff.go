package reconciler

import (
	"sort"
	"strconv"
	"strings"

	"github.com/crmarques/portsync/resource"
)

type DiffOp string

const (
	DiffAdded    DiffOp = "added"
	DiffRemoved  DiffOp = "removed"
	DiffModified DiffOp = "modified"
)

// FieldDiff locates one divergence between desired and live state. Path
// holds the keys and array indices from the root down to the field.
type FieldDiff struct {
	Op   DiffOp
	Path []string
	Old  resource.Value
	New  resource.Value
}

// Pointer renders the path as a JSON pointer.
func (d FieldDiff) Pointer() string {
	var builder strings.Builder
	for _, segment := range d.Path {
		builder.WriteString("/")
		builder.WriteString(escapePointerToken(segment))
	}
	return builder.String()
}

// ChangeSet is the ordered outcome of one comparison; an empty set means
// the two trees are semantically identical.
type ChangeSet []FieldDiff

func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Diff walks local and remote trees in parallel over the union of keys at
// each level. Containers are recursed into so the result is field-level;
// a value changing type is reported as one modification at the enclosing
// path. Arrays are compared positionally.
func Diff(local resource.Value, remote resource.Value) ChangeSet {
	changes := make(ChangeSet, 0)
	collectDiffs(&changes, nil, local, remote)
	return changes
}

// CreateChangeSet describes a resource that does not exist remotely yet:
// every top-level field of the declaration is an addition.
func CreateChangeSet(local resource.Value) ChangeSet {
	obj, ok := resource.AsObject(local)
	if !ok {
		return ChangeSet{{Op: DiffAdded, New: local}}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changes := make(ChangeSet, 0, len(keys))
	for _, key := range keys {
		changes = append(changes, FieldDiff{
			Op:   DiffAdded,
			Path: []string{key},
			New:  obj[key],
		})
	}
	return changes
}

func collectDiffs(changes *ChangeSet, path []string, local resource.Value, remote resource.Value) {
	if resource.DeepEqual(local, remote) {
		return
	}

	localObject, localIsObject := resource.AsObject(local)
	remoteObject, remoteIsObject := resource.AsObject(remote)
	if localIsObject && remoteIsObject {
		keys := make([]string, 0, len(localObject)+len(remoteObject))
		seen := make(map[string]struct{}, len(localObject)+len(remoteObject))
		for key := range localObject {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		for key := range remoteObject {
			if _, found := seen[key]; found {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			childPath := appendPath(path, key)
			localValue, localFound := localObject[key]
			remoteValue, remoteFound := remoteObject[key]

			switch {
			case !remoteFound:
				*changes = append(*changes, FieldDiff{Op: DiffAdded, Path: childPath, New: localValue})
			case !localFound:
				*changes = append(*changes, FieldDiff{Op: DiffRemoved, Path: childPath, Old: remoteValue})
			default:
				collectDiffs(changes, childPath, localValue, remoteValue)
			}
		}
		return
	}

	localArray, localIsArray := resource.AsArray(local)
	remoteArray, remoteIsArray := resource.AsArray(remote)
	if localIsArray && remoteIsArray {
		maxLength := len(localArray)
		if len(remoteArray) > maxLength {
			maxLength = len(remoteArray)
		}

		for idx := range maxLength {
			childPath := appendPath(path, strconv.Itoa(idx))

			switch {
			case idx >= len(remoteArray):
				*changes = append(*changes, FieldDiff{Op: DiffAdded, Path: childPath, New: localArray[idx]})
			case idx >= len(localArray):
				*changes = append(*changes, FieldDiff{Op: DiffRemoved, Path: childPath, Old: remoteArray[idx]})
			default:
				collectDiffs(changes, childPath, localArray[idx], remoteArray[idx])
			}
		}
		return
	}

	*changes = append(*changes, FieldDiff{Op: DiffModified, Path: path, Old: remote, New: local})
}

func appendPath(path []string, segment string) []string {
	child := make([]string, len(path), len(path)+1)
	copy(child, path)
	return append(child, segment)
}

func escapePointerToken(value string) string {
	escaped := strings.ReplaceAll(value, "~", "~0")
	return strings.ReplaceAll(escaped, "/", "~1")
}
