package privacy

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidScore is returned when a trust score falls outside [0,1].
var ErrInvalidScore = errors.New("trust score out of range")

// TrustLedger holds per-node trust scores in [0,1].
// Nodes without an entry read as 0.
type TrustLedger struct {
	mu     sync.RWMutex
	scores map[string]float64 // scores maps node id to trust score
}

// NewTrustLedger creates an empty trust ledger.
func NewTrustLedger() *TrustLedger {
	return &TrustLedger{scores: make(map[string]float64)}
}

// Update sets the trust score for a node. Scores outside [0,1] are rejected;
// both boundaries are valid.
func (tl *TrustLedger) Update(nodeID string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	tl.mu.Lock()
	tl.scores[nodeID] = score
	tl.mu.Unlock()

	return nil
}

// Score returns the trust score for a node, defaulting to 0 when unknown.
func (tl *TrustLedger) Score(nodeID string) float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	return tl.scores[nodeID]
}

// Mean returns the average score over known nodes, or 0 when none are known.
func (tl *TrustLedger) Mean() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if len(tl.scores) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range tl.scores {
		sum += s
	}

	return sum / float64(len(tl.scores))
}

// Known returns the number of nodes with a recorded score.
func (tl *TrustLedger) Known() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	return len(tl.scores)
}
