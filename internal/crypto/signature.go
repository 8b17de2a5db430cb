package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/halyardsys/protogate/internal/gwerrors"
)

const (
	// SigningSeedSize is the Ed25519 private seed size the key store stores.
	SigningSeedSize = ed25519.SeedSize // 32 bytes
	// VerificationKeySize is the Ed25519 public key size.
	VerificationKeySize = ed25519.PublicKeySize // 32 bytes
	// SignatureSize is the Ed25519 detached signature size.
	SignatureSize = ed25519.SignatureSize // 64 bytes
)

// Sign produces a detached Ed25519 signature over message using the
// 32-byte seed stored by the key store.
func Sign(message []byte, seed [SigningSeedSize]byte) ([SignatureSize]byte, error) {
	var out [SignatureSize]byte
	priv := ed25519.NewKeyFromSeed(seed[:])
	sig := ed25519.Sign(priv, message)
	if len(sig) != SignatureSize {
		return out, fmt.Errorf("%w: unexpected signature length %d", gwerrors.ErrAuthenticationFailed, len(sig))
	}
	copy(out[:], sig)
	return out, nil
}

// Verify checks a detached Ed25519 signature over message against publicKey.
func Verify(message []byte, signature [SignatureSize]byte, publicKey [VerificationKeySize]byte) bool {
	return ed25519.Verify(publicKey[:], message, signature[:])
}

// GenerateSigningKeypair draws a fresh Ed25519 seed and derives its public
// counterpart from the OS RNG.
func GenerateSigningKeypair() (seed [SigningSeedSize]byte, publicKey [VerificationKeySize]byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return seed, publicKey, fmt.Errorf("%w: keypair generation: %v", gwerrors.ErrAuthenticationFailed, err)
	}
	copy(seed[:], priv.Seed())
	copy(publicKey[:], pub)
	return seed, publicKey, nil
}
