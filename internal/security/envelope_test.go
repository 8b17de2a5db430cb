package security

import (
	"bytes"
	"testing"

	gwcrypto "github.com/halyardsys/protogate/internal/crypto"
	"github.com/halyardsys/protogate/internal/keystore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := keystore.Open("")
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	if err := store.GenerateEncryption("k1", "test", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}
	if err := store.GenerateKeypair("k1", "test", nil); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return New(store)
}

func TestEnvelopeRoundTripAllModes(t *testing.T) {
	svc := newTestService(t)
	plaintext := []byte("RT5 command payload 0xDEADBEEF")

	for _, mode := range []Mode{None, Signed, Encrypted, EncryptedAndSigned} {
		sec, err := svc.Secure(plaintext, mode, "k1")
		if err != nil {
			t.Fatalf("mode %s: Secure: %v", mode, err)
		}

		got, err := svc.Extract(sec)
		if err != nil {
			t.Fatalf("mode %s: Extract: %v", mode, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("mode %s: round trip mismatch: got %q want %q", mode, got, plaintext)
		}
	}
}

func TestEnvelopeWireSerializationRoundTrip(t *testing.T) {
	svc := newTestService(t)
	plaintext := []byte("payload for wire round trip")

	for _, mode := range []Mode{None, Signed, Encrypted, EncryptedAndSigned} {
		sec, err := svc.Secure(plaintext, mode, "k1")
		if err != nil {
			t.Fatalf("mode %s: Secure: %v", mode, err)
		}

		wire := Serialize(sec)
		back, err := Deserialize(wire)
		if err != nil {
			t.Fatalf("mode %s: Deserialize: %v", mode, err)
		}

		got, err := svc.Extract(back)
		if err != nil {
			t.Fatalf("mode %s: Extract after wire round trip: %v", mode, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("mode %s: wire round trip mismatch: got %q want %q", mode, got, plaintext)
		}
	}
}

func TestEncryptedAndSignedSignsPlaintextNotCiphertext(t *testing.T) {
	svc := newTestService(t)
	plaintext := []byte("signed-then-encrypted payload")

	sec, err := svc.Secure(plaintext, EncryptedAndSigned, "k1")
	if err != nil {
		t.Fatalf("Secure: %v", err)
	}

	if bytes.Equal(sec.Payload, plaintext) {
		t.Fatal("payload should be ciphertext, not plaintext, under EncryptedAndSigned")
	}
	if len(sec.Header.Signature) != gwcrypto.SignatureSize {
		t.Fatal("expected a signature under EncryptedAndSigned")
	}
	pub, err := svc.store.GetVerification("k1-verify")
	if err != nil {
		t.Fatalf("GetVerification: %v", err)
	}
	var sig [gwcrypto.SignatureSize]byte
	copy(sig[:], sec.Header.Signature)
	if !gwcrypto.Verify(plaintext, sig, pub) {
		t.Fatal("expected the signature to verify over the plaintext")
	}
	if gwcrypto.Verify(sec.Payload, sig, pub) {
		t.Fatal("expected the signature not to verify over the ciphertext")
	}

	// Tampering with the ciphertext must fail decryption before signature
	// verification is ever reached.
	sec.Payload[0] ^= 0xFF
	if _, err := svc.Extract(sec); err == nil {
		t.Fatal("expected extraction of a tampered EncryptedAndSigned message to fail")
	}
}

func TestSecureWithWrongKeyIDFails(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Secure([]byte("x"), Encrypted, "missing"); err == nil {
		t.Fatal("expected Secure with an unknown key id to fail")
	}
}

func TestKeyRotationContinuity(t *testing.T) {
	// S5: a SecuredMessage produced with k1 still decrypts after k1 is
	// rotated to k2 with delete_old=false, since header.key_id records k1.
	store, err := keystore.Open("")
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	if err := store.GenerateEncryption("k1", "", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}
	svc := New(store)

	plaintext := []byte("in-flight traffic")
	sec, err := svc.Secure(plaintext, Encrypted, "k1")
	if err != nil {
		t.Fatalf("Secure: %v", err)
	}

	if err := store.RotateEncryption("k1", "k2", "rotated", nil, false); err != nil {
		t.Fatalf("RotateEncryption: %v", err)
	}

	got, err := svc.Extract(sec)
	if err != nil {
		t.Fatalf("Extract after rotation: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("plaintext mismatch after rotation continuity check")
	}
}
