package security

import (
	"fmt"

	gwcrypto "github.com/halyardsys/protogate/internal/crypto"
	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/keystore"
)

// Header carries the envelope's cleartext metadata: everything needed to
// extract the plaintext except the key material itself.
type Header struct {
	Version   uint8
	Mode      Mode
	KeyID     string
	Nonce     []byte // empty when Mode is None or Signed
	Signature []byte // present iff Mode is Signed or EncryptedAndSigned
}

// CurrentVersion is the only SecuredMessage wire version this gateway produces.
const CurrentVersion uint8 = 1

// Secured is the wrapped form of a plaintext, ready for wire serialization.
type Secured struct {
	Header  Header
	Payload []byte // ciphertext if encrypting, else the plaintext itself
	// HMAC is reserved, unused space for forward compatibility: declared on
	// the wire, never populated or verified by this implementation.
	HMAC []byte
}

// Service is the sole owner of a keystore.Store and the only component
// that wraps/unwraps plaintext for the wire.
type Service struct {
	store *keystore.Store
}

// New constructs a security Service over store.
func New(store *keystore.Store) *Service {
	return &Service{store: store}
}

// signingIDFor and verifyIDFor derive the concrete keystore ids used for
// a given base key id:
// the encryption key is stored directly under keyID; the signing keypair
// follows the keystore's "<base>-signing" / "<base>-verify" convention.
func signingIDFor(keyID string) string { return keyID + "-signing" }
func verifyIDFor(keyID string) string  { return keyID + "-verify" }

// Secure wraps plaintext according to mode, keyed by keyID.
//
//	None:                pass-through; empty nonce, no signature.
//	Signed:               signature over plaintext; payload = plaintext.
//	Encrypted:            fresh nonce, payload = ciphertext; no signature.
//	EncryptedAndSigned:    signature over the plaintext, then payload =
//	                       ciphertext under a fresh nonce. Both included.
func (s *Service) Secure(plaintext []byte, mode Mode, keyID string) (*Secured, error) {
	header := Header{Version: CurrentVersion, Mode: mode, KeyID: keyID}
	payload := plaintext

	if mode.requiresSignature() {
		seed, err := s.store.GetSigning(signingIDFor(keyID))
		if err != nil {
			return nil, err
		}
		sig, err := gwcrypto.Sign(plaintext, seed)
		if err != nil {
			return nil, err
		}
		header.Signature = sig[:]
	}

	if mode.requiresEncryption() {
		key, err := s.store.GetEncryption(keyID)
		if err != nil {
			return nil, err
		}
		ciphertext, nonce, err := gwcrypto.Encrypt(plaintext, key)
		if err != nil {
			return nil, err
		}
		header.Nonce = nonce[:]
		payload = ciphertext
	}

	return &Secured{Header: header, Payload: payload}, nil
}

// Extract unwraps a Secured message, returning the original plaintext.
//
//	None:                 return payload unchanged.
//	Signed:               verify signature over payload; return payload.
//	Encrypted:            decrypt payload with header nonce.
//	EncryptedAndSigned:    decrypt first, then verify the signature over
//	                       the decrypted plaintext.
func (s *Service) Extract(sec *Secured) ([]byte, error) {
	plaintext := sec.Payload

	if sec.Header.Mode.requiresEncryption() {
		key, err := s.store.GetEncryption(sec.Header.KeyID)
		if err != nil {
			return nil, err
		}
		var nonce [gwcrypto.NonceSize]byte
		if len(sec.Header.Nonce) != gwcrypto.NonceSize {
			return nil, fmt.Errorf("%w: secured message nonce has wrong size %d", gwerrors.ErrDecryptionFailed, len(sec.Header.Nonce))
		}
		copy(nonce[:], sec.Header.Nonce)
		decrypted, err := gwcrypto.Decrypt(sec.Payload, nonce, key)
		if err != nil {
			return nil, err
		}
		plaintext = decrypted
	}

	if sec.Header.Mode.requiresSignature() {
		if len(sec.Header.Signature) != gwcrypto.SignatureSize {
			return nil, fmt.Errorf("%w: missing or malformed signature for mode %s", gwerrors.ErrAuthenticationFailed, sec.Header.Mode)
		}
		pub, err := s.store.GetVerification(verifyIDFor(sec.Header.KeyID))
		if err != nil {
			return nil, err
		}
		var sig [gwcrypto.SignatureSize]byte
		copy(sig[:], sec.Header.Signature)
		if !gwcrypto.Verify(plaintext, sig, pub) {
			return nil, fmt.Errorf("%w: signature did not verify", gwerrors.ErrAuthenticationFailed)
		}
	}

	return plaintext, nil
}
