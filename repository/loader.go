// Package repository loads declaration files from the local working tree,
// optionally keeping that tree in sync with a remote git repository.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/crmarques/portsync/faults"
	"github.com/crmarques/portsync/gateway"
	"github.com/crmarques/portsync/resource"
)

// CollectFiles expands a mixed list of file paths, comma-separated lists,
// and directories into the matching declaration files, deduplicated and
// in first-seen order. Directories are scanned one level deep for the
// given extensions.
func CollectFiles(inputs []string, extensions []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	appendFile := func(path string) {
		if _, found := seen[path]; found {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, input := range inputs {
		for _, raw := range strings.Split(input, ",") {
			path := strings.TrimSpace(raw)
			if path == "" {
				continue
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil, faults.NewTypedError(faults.LoadError, "path "+path+" does not exist", err)
			}

			if !info.IsDir() {
				if !matchesExtension(path, extensions) {
					return nil, faults.NewTypedError(
						faults.LoadError,
						fmt.Sprintf("file %s does not have one of the expected extensions %v", path, extensions),
						nil,
					)
				}
				appendFile(path)
				continue
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, faults.NewTypedError(faults.LoadError, "cannot read directory "+path, err)
			}
			var matched []string
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				name := filepath.Join(path, entry.Name())
				if matchesExtension(name, extensions) {
					matched = append(matched, name)
				}
			}
			sort.Strings(matched)
			for _, name := range matched {
				appendFile(name)
			}
		}
	}

	return files, nil
}

func matchesExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range extensions {
		if ext == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

// LoadValue reads a declaration file and decodes it by extension. Both
// formats normalize into the same canonical tree.
func LoadValue(path string) (resource.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.NewTypedError(faults.LoadError, "cannot read "+path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var decoded any
		if err := yaml.Unmarshal(data, &decoded); err != nil {
			return nil, faults.NewTypedError(faults.LoadError, "malformed YAML in "+path, err)
		}
		return resource.Normalize(decoded)
	default:
		value, err := resource.FromJSON(data)
		if err != nil {
			return nil, faults.NewTypedError(faults.LoadError, "malformed JSON in "+path, err)
		}
		return value, nil
	}
}

// LoadBlueprint loads one blueprint declaration file.
func LoadBlueprint(path string) (gateway.Ref, resource.Declaration, error) {
	value, err := LoadValue(path)
	if err != nil {
		return gateway.Ref{}, resource.Declaration{}, err
	}

	declaration, err := resource.NewDeclaration(value, path)
	if err != nil {
		return gateway.Ref{}, resource.Declaration{}, annotate(err, path)
	}

	ref := gateway.Ref{Kind: gateway.KindBlueprint, Identifier: declaration.Identifier}
	return ref, declaration, nil
}

// LoadScorecard loads one scorecard fragment. Files wrap the scorecard
// body with the blueprint it targets:
//
//	{"blueprintIdentifier": "service", "scorecard": {...}}
func LoadScorecard(path string) (gateway.Ref, resource.Declaration, error) {
	value, err := LoadValue(path)
	if err != nil {
		return gateway.Ref{}, resource.Declaration{}, err
	}

	wrapper, ok := resource.AsObject(value)
	if !ok {
		return gateway.Ref{}, resource.Declaration{}, faults.NewTypedError(
			faults.LoadError,
			"scorecard file "+path+" must be a mapping, not a list",
			nil,
		)
	}

	blueprint, _ := resource.AsString(wrapper["blueprintIdentifier"])
	blueprint = strings.TrimSpace(blueprint)
	body, hasBody := wrapper["scorecard"]
	if blueprint == "" || !hasBody {
		return gateway.Ref{}, resource.Declaration{}, faults.NewTypedError(
			faults.LoadError,
			"scorecard file "+path+" is missing blueprintIdentifier or scorecard",
			nil,
		)
	}

	declaration, err := resource.NewDeclaration(body, path)
	if err != nil {
		return gateway.Ref{}, resource.Declaration{}, annotate(err, path)
	}

	ref := gateway.Ref{
		Kind:       gateway.KindScorecard,
		Blueprint:  blueprint,
		Identifier: declaration.Identifier,
	}
	return ref, declaration, nil
}

// LoadMapping loads one integration mapping file: a YAML config carrying
// the target integration in integrationIdentifier at the root. The key is
// stripped from the payload before diffing.
func LoadMapping(path string) (gateway.Ref, resource.Declaration, error) {
	value, err := LoadValue(path)
	if err != nil {
		return gateway.Ref{}, resource.Declaration{}, err
	}

	config, ok := resource.AsObject(value)
	if !ok {
		return gateway.Ref{}, resource.Declaration{}, faults.NewTypedError(
			faults.LoadError,
			"mapping file "+path+" must be a mapping",
			nil,
		)
	}

	integration, _ := resource.AsString(config["integrationIdentifier"])
	integration = strings.TrimSpace(integration)
	if integration == "" {
		return gateway.Ref{}, resource.Declaration{}, faults.NewTypedError(
			faults.LoadError,
			"mapping file "+path+" is missing the required integrationIdentifier key",
			nil,
		)
	}

	payload := make(map[string]any, len(config))
	for key, item := range config {
		if key == "integrationIdentifier" {
			continue
		}
		payload[key] = item
	}

	ref := gateway.Ref{Kind: gateway.KindMapping, Identifier: integration}
	declaration := resource.Declaration{
		Identifier: integration,
		Payload:    payload,
		Source:     path,
	}
	return ref, declaration, nil
}

func annotate(err error, path string) error {
	return faults.NewTypedError(faults.LoadError, "in "+path, err)
}
