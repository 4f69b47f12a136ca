package reconcile

import "sort"

// =============================================================================
// Plan Computation
// =============================================================================

// Op is the operation the reconciler must perform for one resource.
type Op string

const (
	// OpCreate - no remote counterpart exists.
	OpCreate Op = "create"
	// OpUpdate - remote exists but mutable attributes diverge.
	OpUpdate Op = "update"
	// OpNoop - remote exists and already matches declared state.
	OpNoop Op = "noop"
)

// Step is the planned operation for a single resource.
type Step struct {
	Op Op

	// Changed lists the mutable attributes that diverge, sorted, only for
	// OpUpdate.
	Changed []string
}

// Plan diffs declared state against observed remote state.
//
// observed == nil means no remote counterpart exists, producing OpCreate.
// A divergence in an immutable attribute produces ImmutableConflictError
// rather than an implicit destructive replace. Attributes observed remotely
// but not declared are ignored: the remote API decorates resources with
// read-only attributes the declaration never mentions.
func Plan(module, kind, resource string, declared, observed map[string]string, immutable []string) (Step, error) {
	if observed == nil {
		return Step{Op: OpCreate}, nil
	}

	immutableSet := make(map[string]bool, len(immutable))
	for _, attr := range immutable {
		immutableSet[attr] = true
	}

	var changed []string
	for attr, want := range declared {
		got, ok := observed[attr]
		if ok && got == want {
			continue
		}
		if immutableSet[attr] {
			return Step{}, &ImmutableConflictError{
				Module:    module,
				Kind:      kind,
				Resource:  resource,
				Attribute: attr,
				Declared:  want,
				Observed:  got,
			}
		}
		changed = append(changed, attr)
	}

	if len(changed) == 0 {
		return Step{Op: OpNoop}, nil
	}
	sort.Strings(changed)
	return Step{Op: OpUpdate, Changed: changed}, nil
}
