package privacy

import "sync"

// consentKey identifies one (grantor, data type) consent set.
type consentKey struct {
	grantor  string
	dataType string
}

// ConsentGraph tracks standing consent grants. An empty grantee set is
// equivalent to the key being absent.
type ConsentGraph struct {
	mu     sync.RWMutex
	grants map[consentKey]map[string]struct{} // grants maps (grantor, dataType) to the grantee set
}

// NewConsentGraph creates an empty consent graph.
func NewConsentGraph() *ConsentGraph {
	return &ConsentGraph{grants: make(map[consentKey]map[string]struct{})}
}

// Grant adds grantee to the (grantor, dataType) set. Granting an existing
// member again is a no-op.
func (cg *ConsentGraph) Grant(grantor, grantee, dataType string) {
	key := consentKey{grantor: grantor, dataType: dataType}

	cg.mu.Lock()
	defer cg.mu.Unlock()

	set, ok := cg.grants[key]
	if !ok {
		set = make(map[string]struct{})
		cg.grants[key] = set
	}

	set[grantee] = struct{}{}
}

// Revoke removes grantee from the (grantor, dataType) set. Revoking a
// non-member is a no-op. Emptied sets are dropped so absence and emptiness
// stay equivalent.
func (cg *ConsentGraph) Revoke(grantor, grantee, dataType string) {
	key := consentKey{grantor: grantor, dataType: dataType}

	cg.mu.Lock()
	defer cg.mu.Unlock()

	set, ok := cg.grants[key]
	if !ok {
		return
	}

	delete(set, grantee)

	if len(set) == 0 {
		delete(cg.grants, key)
	}
}

// Has reports whether the grantor has any standing consent for the data type.
func (cg *ConsentGraph) Has(grantor, dataType string) bool {
	cg.mu.RLock()
	defer cg.mu.RUnlock()

	return len(cg.grants[consentKey{grantor: grantor, dataType: dataType}]) > 0
}

// Grantees returns the grantee set for (grantor, dataType).
func (cg *ConsentGraph) Grantees(grantor, dataType string) []string {
	cg.mu.RLock()
	defer cg.mu.RUnlock()

	set := cg.grants[consentKey{grantor: grantor, dataType: dataType}]

	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}

	return out
}

// Total returns the total number of active consent grants across all keys.
func (cg *ConsentGraph) Total() int {
	cg.mu.RLock()
	defer cg.mu.RUnlock()

	total := 0
	for _, set := range cg.grants {
		total += len(set)
	}

	return total
}
