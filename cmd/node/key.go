package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"PrivMesh/internal/crypto"
)

// loadOrGenerateIdentity returns the node's transport identity key. A
// missing file at keyPath is created; an empty path means an ephemeral key.
func loadOrGenerateIdentity(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveIdentity(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateAndSaveIdentity creates a new key and saves it to the given path.
func generateAndSaveIdentity(path string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s: %w", path, err)
	}

	return priv, nil
}

// loadOrGenerateGate builds the data-encryption gate. With a key path the
// symmetric key persists across restarts so stored envelopes stay readable;
// without one the key is ephemeral.
func loadOrGenerateGate(keyPath string) (*crypto.Gate, error) {
	if keyPath == "" {
		return crypto.NewGate()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveGate(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read data key file: %w", err)
	}

	if len(data) != crypto.KeySize {
		return nil, fmt.Errorf("invalid data key size: got %d, want %d", len(data), crypto.KeySize)
	}

	return crypto.NewGateWithKey(data)
}

// generateAndSaveGate creates a new symmetric key and saves it.
func generateAndSaveGate(path string) (*crypto.Gate, error) {
	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("save data key to %s: %w", path, err)
	}

	return crypto.NewGateWithKey(key)
}

// nodeFingerprint is a short printable identifier derived from the public key.
func nodeFingerprint(priv ed25519.PrivateKey) string {
	sum := blake3.Sum256(priv.Public().(ed25519.PublicKey))
	return fmt.Sprintf("%x", sum[:8])
}
