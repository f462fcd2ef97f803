package network

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType enumerates the wire message categories.
type MessageType string

const (
	TypeResourceRequest  MessageType = "RESOURCE_REQUEST"
	TypeResourceResponse MessageType = "RESOURCE_RESPONSE"
	TypeDataShare        MessageType = "DATA_SHARE"
	TypePatternUpdate    MessageType = "PATTERN_UPDATE"
	TypeConsensusRequest MessageType = "CONSENSUS_REQUEST"
	TypeNodeDiscovery    MessageType = "NODE_DISCOVERY"
)

// Message is the JSON envelope exchanged between nodes. The payload is
// opaque to this layer; for DATA_SHARE it is usually an encrypted envelope.
// The signature is carried but not verified here.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Signature string          `json:"signature,omitempty"`
}

// Validate checks the envelope invariants: all identity fields present and
// a timestamp that is set and not in the future relative to now.
func (m *Message) Validate(now time.Time) error {
	if m.ID == "" {
		return fmt.Errorf("missing message id")
	}

	if m.Type == "" {
		return fmt.Errorf("missing message type")
	}

	if m.Sender == "" {
		return fmt.Errorf("missing sender")
	}

	if m.Recipient == "" {
		return fmt.Errorf("missing recipient")
	}

	if m.Timestamp == 0 {
		return fmt.Errorf("missing timestamp")
	}

	if m.Timestamp > now.UnixMilli() {
		return fmt.Errorf("timestamp %d is in the future", m.Timestamp)
	}

	return nil
}

// NewMessageID returns a fresh random message identifier.
func NewMessageID() string {
	return randomHex(16)
}

// newPeerID returns a locally generated peer identifier. Identifiers are
// assigned here rather than claimed by the remote party, so upstream
// trust/consent decisions key off an id the transport layer vouches for.
func newPeerID() string {
	return "peer-" + randomHex(8)
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// The process CSPRNG failing is not a per-call condition we can
		// meaningfully recover from.
		panic(fmt.Sprintf("read random: %v", err))
	}

	return hex.EncodeToString(buf)
}
