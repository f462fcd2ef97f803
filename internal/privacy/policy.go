// Package privacy implements the policy/consent/trust gate that every
// cross-node disclosure passes through before encryption.
package privacy

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidPolicy is returned when a policy fails structural validation.
var ErrInvalidPolicy = errors.New("invalid privacy policy")

// SharingPolicy governs who may receive data of a given type.
type SharingPolicy struct {
	AllowedNodes   []string `json:"allowedNodes"`   // AllowedNodes are node ids authorized for this data type
	RequireConsent bool     `json:"requireConsent"` // RequireConsent demands a standing consent grant
	MinimumTrust   float64  `json:"minimumTrust"`   // MinimumTrust is the gating threshold in [0,1]
}

// AllowsNode reports whether the node id is in the allowed set.
func (s SharingPolicy) AllowsNode(nodeID string) bool {
	for _, n := range s.AllowedNodes {
		if n == nodeID {
			return true
		}
	}

	return false
}

// Policy is the rule set for one data type. Policies are replaced whole,
// never partially updated.
type Policy struct {
	DataType          string        `json:"dataType"`
	AllowedOperations []string      `json:"allowedOperations"`
	RetentionPeriod   int64         `json:"retentionPeriod"` // seconds; advisory metadata, no deletion clock
	Sharing           SharingPolicy `json:"sharingPolicy"`
}

// Validate checks the structural invariants of a policy.
func (p Policy) Validate() error {
	if p.DataType == "" {
		return fmt.Errorf("%w: missing data type", ErrInvalidPolicy)
	}

	if len(p.AllowedOperations) == 0 {
		return fmt.Errorf("%w: no allowed operations", ErrInvalidPolicy)
	}

	if p.RetentionPeriod <= 0 {
		return fmt.Errorf("%w: retention period must be positive", ErrInvalidPolicy)
	}

	return nil
}

// AllowsOperation reports whether the operation is permitted by this policy.
func (p Policy) AllowsOperation(op string) bool {
	for _, o := range p.AllowedOperations {
		if o == op {
			return true
		}
	}

	return false
}

// PolicyStore holds the per-data-type policies.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]Policy // policies maps data type to its policy
}

// NewPolicyStore creates an empty policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]Policy)}
}

// Set validates and stores a policy, replacing any existing one for the
// same data type.
func (ps *PolicyStore) Set(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ps.mu.Lock()
	ps.policies[p.DataType] = p
	ps.mu.Unlock()

	return nil
}

// Get returns the policy for a data type, if one exists.
func (ps *PolicyStore) Get(dataType string) (Policy, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	p, ok := ps.policies[dataType]
	return p, ok
}

// Count returns the number of stored policies.
func (ps *PolicyStore) Count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.policies)
}

// DataTypes returns the data types that currently have a policy.
func (ps *PolicyStore) DataTypes() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	types := make([]string, 0, len(ps.policies))
	for dt := range ps.policies {
		types = append(types, dt)
	}

	return types
}
