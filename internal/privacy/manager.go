package privacy

import (
	"errors"
	"fmt"

	"PrivMesh/internal/crypto"
	"PrivMesh/internal/events"
	"PrivMesh/internal/logger"
)

// ErrNoPolicy is returned when an operation references a data type without
// a stored policy.
var ErrNoPolicy = errors.New("no policy for data type")

// ConsentChange is the payload of consentGranted/consentRevoked events.
type ConsentChange struct {
	Grantor  string `json:"grantor"`
	Grantee  string `json:"grantee"`
	DataType string `json:"dataType"`
}

// TrustChange is the payload of trustScoreUpdated events.
type TrustChange struct {
	NodeID string  `json:"nodeId"`
	Score  float64 `json:"score"`
}

// Metrics is a read-only aggregate over the privacy state.
type Metrics struct {
	PolicyCount    int      `json:"policyCount"`
	MeanTrust      float64  `json:"meanTrust"`
	ActiveConsents int      `json:"activeConsents"`
	DataTypes      []string `json:"dataTypes"`
}

// Manager composes the policy store, trust ledger, consent graph and crypto
// gate into the disclosure decision surface. Every method recovers its own
// failures: callers get a sentinel return, observers get an error event.
type Manager struct {
	policies *PolicyStore
	trust    *TrustLedger
	consent  *ConsentGraph
	gate     *crypto.Gate
	bus      *events.Bus
}

// NewManager creates a privacy manager around the given crypto gate.
// Events are published on bus, which must not be nil.
func NewManager(gate *crypto.Gate, bus *events.Bus) *Manager {
	return &Manager{
		policies: NewPolicyStore(),
		trust:    NewTrustLedger(),
		consent:  NewConsentGraph(),
		gate:     gate,
		bus:      bus,
	}
}

// SetPolicy validates and stores a policy, then emits policyUpdated.
func (m *Manager) SetPolicy(p Policy) error {
	if err := m.policies.Set(p); err != nil {
		m.emitError("setPolicy", err)
		return err
	}

	logger.Debug("policy updated", "dataType", p.DataType, "operations", len(p.AllowedOperations))
	m.bus.Emit(events.PolicyUpdated, p)

	return nil
}

// Policy returns the stored policy for a data type, if any.
func (m *Manager) Policy(dataType string) (Policy, bool) {
	return m.policies.Get(dataType)
}

// CheckPermission reports whether nodeID may perform op on dataType.
// The decision is pure: a policy must exist, the operation and node must be
// allowed, the node's trust must reach the policy threshold, and, when the
// policy requires consent, the requesting node must hold a non-empty consent
// set for the data type in its own grant registry. That last clause checks
// the requester's registry rather than the data owner's; it is the contract
// callers depend on.
func (m *Manager) CheckPermission(nodeID, dataType, op string) bool {
	policy, ok := m.policies.Get(dataType)
	if !ok {
		return false
	}

	if !policy.AllowsOperation(op) {
		return false
	}

	if !policy.Sharing.AllowsNode(nodeID) {
		return false
	}

	if m.trust.Score(nodeID) < policy.Sharing.MinimumTrust {
		return false
	}

	if policy.Sharing.RequireConsent && !m.consent.Has(nodeID, dataType) {
		return false
	}

	return true
}

// GrantConsent records a consent grant and emits consentGranted.
// Granting an existing pair again is a no-op beyond the event.
func (m *Manager) GrantConsent(grantor, grantee, dataType string) {
	m.consent.Grant(grantor, grantee, dataType)
	m.bus.Emit(events.ConsentGranted, ConsentChange{Grantor: grantor, Grantee: grantee, DataType: dataType})
}

// RevokeConsent removes a consent grant and emits consentRevoked.
func (m *Manager) RevokeConsent(grantor, grantee, dataType string) {
	m.consent.Revoke(grantor, grantee, dataType)
	m.bus.Emit(events.ConsentRevoked, ConsentChange{Grantor: grantor, Grantee: grantee, DataType: dataType})
}

// HasConsent reports whether grantor holds any consent set for dataType.
func (m *Manager) HasConsent(grantor, dataType string) bool {
	return m.consent.Has(grantor, dataType)
}

// UpdateTrustScore sets a node's trust score and emits trustScoreUpdated.
func (m *Manager) UpdateTrustScore(nodeID string, score float64) error {
	if err := m.trust.Update(nodeID, score); err != nil {
		m.emitError("updateTrustScore", err)
		return err
	}

	m.bus.Emit(events.TrustScoreUpdated, TrustChange{NodeID: nodeID, Score: score})

	return nil
}

// TrustScore returns the recorded score for a node, 0 when unknown.
func (m *Manager) TrustScore(nodeID string) float64 {
	return m.trust.Score(nodeID)
}

// EncryptData seals data for transmission. It fails closed: without a policy
// for the data type, or on any cipher/serialization fault, the result is nil
// and an error event is emitted.
func (m *Manager) EncryptData(data any, dataType string) (*crypto.Envelope, error) {
	if _, ok := m.policies.Get(dataType); !ok {
		err := fmt.Errorf("%w: %s", ErrNoPolicy, dataType)
		m.emitError("encryptData", err)
		return nil, err
	}

	env, err := m.gate.Seal(data)
	if err != nil {
		m.emitError("encryptData", err)
		return nil, err
	}

	return env, nil
}

// DecryptData opens an envelope received from a peer. It fails closed on
// authentication mismatch, malformed hex, or JSON parse failure; partial
// plaintext is never returned.
func (m *Manager) DecryptData(env *crypto.Envelope) (any, error) {
	data, err := m.gate.Open(env)
	if err != nil {
		m.emitError("decryptData", err)
		return nil, err
	}

	return data, nil
}

// GenerateProof creates a placeholder commitment proof over data and
// statement. See crypto.Proof for what this scheme does and does not claim.
func (m *Manager) GenerateProof(data any, statement string) (*crypto.Proof, error) {
	p, err := crypto.GenerateProof(data, statement)
	if err != nil {
		m.emitError("generateProof", err)
		return nil, err
	}

	return p, nil
}

// VerifyProof checks a placeholder proof's commitment.
func (m *Manager) VerifyProof(p *crypto.Proof) bool {
	return crypto.VerifyProof(p)
}

// Metrics returns a read-only aggregate of the privacy state.
func (m *Manager) Metrics() Metrics {
	return Metrics{
		PolicyCount:    m.policies.Count(),
		MeanTrust:      m.trust.Mean(),
		ActiveConsents: m.consent.Total(),
		DataTypes:      m.policies.DataTypes(),
	}
}

// emitError logs and publishes a recovered per-call failure.
func (m *Manager) emitError(context string, err error) {
	logger.Warn("privacy operation failed", "op", context, "error", err)
	m.bus.Emit(events.Error, events.ErrorEvent{Scope: "privacy", Context: context, Err: err})
}
