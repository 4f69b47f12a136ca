package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// =============================================================================
// Resource Records
// =============================================================================

// Resource is the persisted completion marker for one reconciled remote
// resource. A crashed run resumes from these records instead of re-deriving
// already-created state. Resources are never silently destroyed; deletion is
// an explicit, separate operation.
type Resource struct {
	Environment  string            `json:"environment"`
	Module       string            `json:"module"`
	Kind         string            `json:"kind"`
	Name         string            `json:"name"`
	RemoteID     string            `json:"remote_id,omitempty"`
	DeclaredHash string            `json:"declared_hash"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// DeclaredHash computes a stable digest of declared state, used to decide
// whether a persisted marker still matches the manifest.
func DeclaredHash(declared map[string]string) string {
	keys := make([]string, 0, len(declared))
	for k := range declared {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(declared[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
