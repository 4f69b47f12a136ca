package stack

import (
	"fmt"
	"strings"
)

// =============================================================================
// Graph Resolution
// =============================================================================

// Resolution is the result of resolving a module set: a total apply order
// plus the reference table used for output-to-input substitution.
type Resolution struct {
	// Order lists modules so that every module appears after all modules
	// it depends on.
	Order []Module

	// refs maps module name -> references its inputs carry. Built once at
	// resolve time so substitution never has to re-parse input values.
	refs map[string][]Reference
}

// Resolve validates the module set and computes a deterministic apply order.
//
// The order is produced by Kahn's algorithm; ties among independent modules
// are broken by declaration order, so repeated runs against unchanged input
// always produce the same order.
//
// Failure modes:
//   - CycleError when the dependency relation contains a cycle
//   - ReferenceError when an input references an undeclared module or an
//     output the referenced module does not produce
func Resolve(modules []Module) (*Resolution, error) {
	if len(modules) == 0 {
		return nil, ErrNoModules
	}

	byName := make(map[string]Module, len(modules))
	declIndex := make(map[string]int, len(modules))
	for i, m := range modules {
		if m.Name == "" {
			return nil, ErrModuleNameRequired
		}
		if _, exists := byName[m.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
		}
		byName[m.Name] = m
		declIndex[m.Name] = i
	}

	// Validate every reference before looking at ordering, so configuration
	// errors surface with the most specific message available.
	refs := make(map[string][]Reference, len(modules))
	for _, m := range modules {
		for input, value := range m.Inputs {
			for _, ref := range ParseReferences(value) {
				if ref.Module == m.Name {
					return nil, fmt.Errorf("%w: %s.%s", ErrSelfReference, m.Name, ref.Output)
				}
				target, ok := byName[ref.Module]
				if !ok {
					return nil, &ReferenceError{
						Module: m.Name, Input: input,
						RefModule: ref.Module, RefOutput: ref.Output,
						Message: "module is not declared",
					}
				}
				if !target.HasOutput(ref.Output) {
					return nil, &ReferenceError{
						Module: m.Name, Input: input,
						RefModule: ref.Module, RefOutput: ref.Output,
						Message: fmt.Sprintf("module %s does not produce output %s", ref.Module, ref.Output),
					}
				}
			}
		}
		refs[m.Name] = m.References()
	}

	// Kahn's algorithm with declaration-order tie-breaking.
	inDegree := make(map[string]int, len(modules))
	dependents := make(map[string][]string)
	for _, m := range modules {
		deps := m.DependsOn()
		inDegree[m.Name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], m.Name)
		}
	}

	emitted := make(map[string]bool, len(modules))
	order := make([]Module, 0, len(modules))
	for len(order) < len(modules) {
		// Pick the first declared module whose dependencies are all emitted.
		picked := ""
		for _, m := range modules {
			if !emitted[m.Name] && inDegree[m.Name] == 0 {
				picked = m.Name
				break
			}
		}
		if picked == "" {
			return nil, &CycleError{Members: findCycle(modules, emitted)}
		}
		emitted[picked] = true
		order = append(order, byName[picked])
		for _, dep := range dependents[picked] {
			inDegree[dep]--
		}
	}

	return &Resolution{Order: order, refs: refs}, nil
}

// findCycle walks the dependency edges among the modules that could not be
// ordered and returns the members of one cycle, starting from the
// lexicographically smallest member so the error message is stable.
func findCycle(modules []Module, emitted map[string]bool) []string {
	remaining := make(map[string][]string)
	for _, m := range modules {
		if emitted[m.Name] {
			continue
		}
		for _, dep := range m.DependsOn() {
			if !emitted[dep] {
				remaining[m.Name] = append(remaining[m.Name], dep)
			}
		}
	}

	var start string
	for name := range remaining {
		if start == "" || name < start {
			start = name
		}
	}

	// Follow first-edges until a node repeats; every remaining node has at
	// least one outgoing edge, so this always terminates in a cycle.
	seen := make(map[string]int)
	path := []string{}
	node := start
	for {
		if at, ok := seen[node]; ok {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, node)
		}
		seen[node] = len(path)
		path = append(path, node)
		node = remaining[node][0]
	}
}

// =============================================================================
// Output Substitution
// =============================================================================

// Substitute replaces every ${module.output} reference in the module's
// inputs using the produced outputs table (module name -> output name ->
// value). Resolution already guaranteed each reference targets a declared
// output, so a missing value here means the referenced module has not been
// reconciled yet - a caller ordering bug, reported as ReferenceError.
func (r *Resolution) Substitute(m Module, produced map[string]map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(m.Inputs))
	for input, value := range m.Inputs {
		out := value
		for _, ref := range ParseReferences(value) {
			outputs, ok := produced[ref.Module]
			if !ok {
				return nil, &ReferenceError{
					Module: m.Name, Input: input,
					RefModule: ref.Module, RefOutput: ref.Output,
					Message: "module has no produced outputs yet",
				}
			}
			v, ok := outputs[ref.Output]
			if !ok {
				return nil, &ReferenceError{
					Module: m.Name, Input: input,
					RefModule: ref.Module, RefOutput: ref.Output,
					Message: "output was not produced by reconciliation",
				}
			}
			out = strings.ReplaceAll(out, fmt.Sprintf("${%s.%s}", ref.Module, ref.Output), v)
		}
		resolved[input] = out
	}
	return resolved, nil
}

// RenderAttributes resolves ${inputs.name} placeholders in a resource's
// declared attributes against the module's substituted inputs.
func RenderAttributes(spec ResourceSpec, inputs map[string]string) map[string]string {
	rendered := make(map[string]string, len(spec.Attributes))
	for key, value := range spec.Attributes {
		out := value
		for name, v := range inputs {
			out = strings.ReplaceAll(out, fmt.Sprintf("${inputs.%s}", name), v)
		}
		rendered[key] = out
	}
	return rendered
}
