package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	for i := 0; i < 128; i++ {
		seed, pub, err := GenerateSigningKeypair()
		if err != nil {
			t.Fatalf("GenerateSigningKeypair: %v", err)
		}

		message := make([]byte, 1+i)
		if _, err := rand.Read(message); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}

		sig, err := Sign(message, seed)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}

		if !Verify(message, sig, pub) {
			t.Fatalf("verify failed for genuine signature at iteration %d", i)
		}
	}
}

func TestVerifyRejectsModifiedMessage(t *testing.T) {
	seed, pub, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}

	message := []byte("rotate keystore entry k1")
	sig, err := Sign(message, seed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := append(bytes.Clone(message), 'x')
	if Verify(tampered, sig, pub) {
		t.Fatal("expected verification of a modified message to fail")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	seed, _, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}
	_, otherPub, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}

	message := []byte("translate RT5 to ip-framed session")
	sig, err := Sign(message, seed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if Verify(message, sig, otherPub) {
		t.Fatal("expected verification against the wrong public key to fail")
	}
}
