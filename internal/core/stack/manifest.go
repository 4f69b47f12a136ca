package stack

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackform/stackform/internal/core/profile"
)

// =============================================================================
// Manifest Parsing
// =============================================================================

// Manifest is the parsed stack declaration: the module set plus the
// environment profiles the stack can be provisioned for.
type Manifest struct {
	Modules  []Module          `yaml:"modules"`
	Profiles []profile.Profile `yaml:"profiles"`
}

// ParseManifest parses and validates a YAML stack manifest.
//
// Validation covers structure only (names present, no duplicates); graph
// validity (cycles, references) is checked by Resolve, and topology- and
// identity-specific invariants by their own packages, all before any apply.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyManifest
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest YAML: %w", err)
	}

	if len(m.Modules) == 0 {
		return nil, ErrNoModules
	}

	seen := make(map[string]bool, len(m.Modules))
	for _, mod := range m.Modules {
		if mod.Name == "" {
			return nil, ErrModuleNameRequired
		}
		if seen[mod.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, mod.Name)
		}
		seen[mod.Name] = true

		resSeen := make(map[string]bool, len(mod.Resources))
		for _, res := range mod.Resources {
			if res.Name == "" {
				return nil, fmt.Errorf("module %s: %w", mod.Name, ErrResourceNameRequired)
			}
			if res.Kind == "" {
				return nil, fmt.Errorf("module %s resource %s: kind is required", mod.Name, res.Name)
			}
			if resSeen[res.Name] {
				return nil, fmt.Errorf("module %s: %w: %s", mod.Name, ErrDuplicateResource, res.Name)
			}
			resSeen[res.Name] = true
		}

		for output := range mod.Outputs {
			resource, _, ok := mod.Export(output)
			if !ok {
				return nil, fmt.Errorf("module %s output %s: wiring must be \"resource.key\"", mod.Name, output)
			}
			if !resSeen[resource] {
				return nil, fmt.Errorf("module %s output %s: unknown resource %s", mod.Name, output, resource)
			}
		}
	}

	return &m, nil
}
