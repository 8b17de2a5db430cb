package keystore

import "fmt"

// KeyType is the closed set of purposes a stored key can serve.
type KeyType uint8

const (
	Encryption KeyType = iota
	Signing
	Verification
)

func (t KeyType) String() string {
	switch t {
	case Encryption:
		return "encryption"
	case Signing:
		return "signing"
	case Verification:
		return "verification"
	default:
		return "unknown"
	}
}

// expectedSize returns the required key_data length for t. All three key
// types in this gateway are 32 bytes: a ChaCha20-Poly1305 key, an Ed25519
// seed, or an Ed25519 public key.
func (t KeyType) expectedSize() int {
	switch t {
	case Encryption, Signing, Verification:
		return 32
	default:
		return 0
	}
}

// Metadata describes a stored key without exposing its key material.
type Metadata struct {
	ID           string  `json:"id"`
	KeyType      KeyType `json:"key_type"`
	CreatedAtSec int64   `json:"created_at_sec"`
	ExpiresAtSec *int64  `json:"expires_at_sec,omitempty"`
	Description  string  `json:"description"`
}

// entry is the private, persisted representation of one key.
type entry struct {
	Metadata Metadata `json:"metadata"`
	KeyData  []byte   `json:"key_data"`
}

func (e entry) validate() error {
	if want := e.Metadata.KeyType.expectedSize(); len(e.KeyData) != want {
		return fmt.Errorf("key %q: expected %d bytes for %s key, got %d", e.Metadata.ID, want, e.Metadata.KeyType, len(e.KeyData))
	}
	return nil
}
