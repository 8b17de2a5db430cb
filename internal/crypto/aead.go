// Package crypto provides the gateway's cryptographic primitives: AEAD
// encryption and detached signatures. Higher layers (security envelope,
// key store) compose these; this package has no notion of key lifecycle.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/halyardsys/protogate/internal/gwerrors"
)

const (
	// KeySize is the ChaCha20-Poly1305 key size in bytes.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the standard (non-extended) ChaCha20-Poly1305 nonce size: 96 bits.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag size, appended to the ciphertext.
	TagSize = 16
)

// Encrypt seals plaintext under key using ChaCha20-Poly1305 with a fresh
// nonce drawn from the OS CSPRNG. The returned ciphertext includes the
// 16-byte authentication tag.
func Encrypt(plaintext []byte, key [KeySize]byte) (ciphertext []byte, nonce [NonceSize]byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nonce, fmt.Errorf("%w: %v", gwerrors.ErrEncryptionFailed, err)
	}

	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("%w: nonce generation: %v", gwerrors.ErrEncryptionFailed, err)
	}

	ciphertext = aead.Seal(nil, nonce[:], plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext under key and nonce, returning an error
// wrapping DecryptionFailed on tag mismatch, wrong key, or malformed input.
func Decrypt(ciphertext []byte, nonce [NonceSize]byte, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag size", gwerrors.ErrDecryptionFailed)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrDecryptionFailed, err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// GenerateEncryptionKey draws a fresh random 32-byte key from the OS RNG.
func GenerateEncryptionKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("%w: key generation: %v", gwerrors.ErrEncryptionFailed, err)
	}
	return key, nil
}
