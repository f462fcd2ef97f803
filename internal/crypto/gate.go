// Package crypto implements the authenticated-encryption gate that payloads
// pass through before leaving the node, plus the placeholder proof scheme.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of the process-held symmetric key.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the ChaCha20-Poly1305 nonce size (96 bits).
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the Poly1305 authentication tag size.
	TagSize = chacha20poly1305.Overhead
)

// Envelope is the wire form of an encrypted payload.
// All three fields are hex-encoded.
type Envelope struct {
	Data string `json:"data"` // Data is the ciphertext without the tag
	IV   string `json:"iv"`   // IV is the per-encryption random nonce
	Tag  string `json:"tag"`  // Tag is the Poly1305 authentication tag
}

// Gate seals and opens envelopes under one process-held symmetric key.
// The key is fixed at construction and never rotated; whether it persists
// across restarts is the caller's concern.
type Gate struct {
	aead cipher.AEAD
}

// NewGate creates a gate with a fresh random key.
func NewGate() (*Gate, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	return NewGateWithKey(key)
}

// NewGateWithKey creates a gate from an existing 32-byte key.
func NewGateWithKey(key []byte) (*Gate, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	return &Gate{aead: aead}, nil
}

// Seal serializes v as JSON and encrypts it with a fresh random nonce.
// A new nonce is drawn on every call; reuse under the same key would void
// the cipher's guarantees.
func (g *Gate) Seal(v any) (*Envelope, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := g.aead.Seal(nil, nonce, plain, nil)

	// Seal appends the tag to the ciphertext; the envelope carries them apart.
	split := len(sealed) - TagSize

	return &Envelope{
		Data: hex.EncodeToString(sealed[:split]),
		IV:   hex.EncodeToString(nonce),
		Tag:  hex.EncodeToString(sealed[split:]),
	}, nil
}

// Open authenticates and decrypts an envelope, returning the original JSON
// value. It fails closed: any malformed field, wrong nonce size, or tag
// mismatch yields an error and no partial output.
func (g *Gate) Open(env *Envelope) (any, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}

	ct, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext: %w", err)
	}

	nonce, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("malformed iv: %w", err)
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("bad nonce size: got %d, want %d", len(nonce), NonceSize)
	}

	tag, err := hex.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("malformed tag: %w", err)
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := g.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	var v any
	if err := json.Unmarshal(plain, &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	return v, nil
}
