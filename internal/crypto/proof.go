package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Proof is a committed-hash stand-in for a real zero-knowledge proof system.
// The commitment binds data and statement together, but verification requires
// the proof value itself, so nothing here is zero-knowledge or sound against
// a malicious prover. The call contract (generate over data+statement, verify
// without the original data) is what a future replacement must keep.
type Proof struct {
	Proof        string       `json:"proof"`        // Proof is blake3(data)
	PublicInputs PublicInputs `json:"publicInputs"` // PublicInputs travel with the proof
	Verification string       `json:"verification"` // Verification is blake3(proof || statement)
}

// PublicInputs are the non-secret inputs carried alongside a proof.
type PublicInputs struct {
	Statement string `json:"statement"`
	Timestamp int64  `json:"timestamp"`
}

// GenerateProof commits to the JSON serialization of data under the given
// statement.
func GenerateProof(data any, statement string) (*Proof, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("serialize proof input: %w", err)
	}

	sum := blake3.Sum256(raw)
	proof := hex.EncodeToString(sum[:])

	return &Proof{
		Proof: proof,
		PublicInputs: PublicInputs{
			Statement: statement,
			Timestamp: time.Now().UnixMilli(),
		},
		Verification: commit(proof, statement),
	}, nil
}

// VerifyProof recomputes the commitment and compares it to the carried value.
func VerifyProof(p *Proof) bool {
	if p == nil || p.Proof == "" {
		return false
	}

	return commit(p.Proof, p.PublicInputs.Statement) == p.Verification
}

// commit hashes the proof value concatenated with the statement.
func commit(proof, statement string) string {
	sum := blake3.Sum256([]byte(proof + statement))
	return hex.EncodeToString(sum[:])
}
