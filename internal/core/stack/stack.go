package stack

import (
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Module Declarations
// =============================================================================

// ResourceSpec declares one remote resource inside a module.
// Attributes are the declared state; values may embed ${inputs.name}
// placeholders resolved against the module's substituted inputs.
type ResourceSpec struct {
	Kind       string            `yaml:"kind"`
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

// Module is a named provisioning unit. Inputs may embed ${module.output}
// references into other modules. Outputs maps each produced output name to
// the "resource.key" export it is wired from, so dependents address module
// outputs without knowing the module's internal resource names.
type Module struct {
	Name      string            `yaml:"name"`
	Inputs    map[string]string `yaml:"inputs"`
	Outputs   map[string]string `yaml:"outputs"`
	Resources []ResourceSpec    `yaml:"resources"`
}

// Reference is a parsed ${module.output} reference found in an input value.
type Reference struct {
	Module string
	Output string
}

// refPattern matches ${module.output} placeholders. Input placeholders
// (${inputs.x}) deliberately do not match - they are rendered per resource,
// not at graph time.
var refPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ParseReferences extracts all cross-module references embedded in value.
func ParseReferences(value string) []Reference {
	matches := refPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		if m[1] == "inputs" || m[1] == "profile" {
			continue
		}
		refs = append(refs, Reference{Module: m[1], Output: m[2]})
	}
	return refs
}

// References returns every cross-module reference in the module's inputs,
// deduplicated, in deterministic order.
func (m Module) References() []Reference {
	seen := make(map[Reference]bool)
	var refs []Reference
	for _, value := range m.Inputs {
		for _, ref := range ParseReferences(value) {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Module != refs[j].Module {
			return refs[i].Module < refs[j].Module
		}
		return refs[i].Output < refs[j].Output
	})
	return refs
}

// DependsOn returns the names of modules this module depends on, derived
// transitively from its input references, in deterministic order.
func (m Module) DependsOn() []string {
	seen := make(map[string]bool)
	var deps []string
	for _, ref := range m.References() {
		if ref.Module == m.Name {
			continue
		}
		if !seen[ref.Module] {
			seen[ref.Module] = true
			deps = append(deps, ref.Module)
		}
	}
	sort.Strings(deps)
	return deps
}

// HasOutput reports whether the module declares the named output.
func (m Module) HasOutput(name string) bool {
	_, ok := m.Outputs[name]
	return ok
}

// Export splits the declared wiring for an output into its resource name
// and output key.
func (m Module) Export(output string) (resource, key string, ok bool) {
	wiring, declared := m.Outputs[output]
	if !declared {
		return "", "", false
	}
	i := strings.IndexByte(wiring, '.')
	if i <= 0 || i == len(wiring)-1 {
		return "", "", false
	}
	return wiring[:i], wiring[i+1:], true
}

// Resource returns the named resource spec, if declared.
func (m Module) Resource(name string) (ResourceSpec, bool) {
	for _, r := range m.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceSpec{}, false
}

// ResourcesOfKind returns all resources of the given kind in declaration order.
func (m Module) ResourcesOfKind(kind string) []ResourceSpec {
	var out []ResourceSpec
	for _, r := range m.Resources {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
