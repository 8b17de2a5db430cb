package keystore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/halyardsys/protogate/internal/crypto"
)

func TestGenerateAndFetchEncryption(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.GenerateEncryption("k1", "test key", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}

	if _, err := s.GetEncryption("k1"); err != nil {
		t.Fatalf("GetEncryption: %v", err)
	}
}

func TestFetchWrongTypeFails(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.GenerateEncryption("k1", "", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}

	if _, err := s.GetSigning("k1"); err == nil {
		t.Fatal("expected fetching an encryption key as signing to fail")
	}
}

func TestGenerateKeypairProducesWorkingPair(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.GenerateKeypair("X", "identity key", nil); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	seed, err := s.GetSigning("X-signing")
	if err != nil {
		t.Fatalf("GetSigning: %v", err)
	}
	pub, err := s.GetVerification("X-verify")
	if err != nil {
		t.Fatalf("GetVerification: %v", err)
	}

	sig, err := crypto.Sign([]byte("session handshake"), seed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !crypto.Verify([]byte("session handshake"), sig, pub) {
		t.Fatal("signature produced by generated keypair did not verify")
	}
}

func TestExpiredKeyNeverReturned(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.nowFunc = func() time.Time { return time.Unix(1_000_000, 0) }

	ttl := 1 // 1 day
	if err := s.GenerateEncryption("k1", "", &ttl); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}

	s.nowFunc = func() time.Time { return time.Unix(1_000_000+2*86400, 0) }
	if _, err := s.GetEncryption("k1"); err == nil {
		t.Fatal("expected expired key fetch to fail")
	}
}

func TestImportValidatesSize(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Import("bad", Encryption, []byte("too short"), "", nil); err == nil {
		t.Fatal("expected import of wrong-size key to fail")
	}

	good := make([]byte, 32)
	if err := s.Import("good", Encryption, good, "", nil); err != nil {
		t.Fatalf("Import: %v", err)
	}
}

func TestRotateEncryptionPreservesOldUntilDeleted(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.GenerateEncryption("k1", "", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}

	if err := s.RotateEncryption("k1", "k2", "rotated", nil, false); err != nil {
		t.Fatalf("RotateEncryption: %v", err)
	}

	if _, err := s.GetEncryption("k1"); err != nil {
		t.Fatalf("k1 should still decrypt in-flight traffic after rotation without delete: %v", err)
	}
	if _, err := s.GetEncryption("k2"); err != nil {
		t.Fatalf("k2 should be fetchable after rotation: %v", err)
	}

	if err := s.RotateEncryption("k2", "k3", "rotated again", nil, true); err != nil {
		t.Fatalf("RotateEncryption with delete: %v", err)
	}
	if _, err := s.GetEncryption("k2"); err == nil {
		t.Fatal("k2 should be gone after rotation with delete_old=true")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.GenerateEncryption("k1", "persisted", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}
	want, err := s1.GetEncryption("k1")
	if err != nil {
		t.Fatalf("GetEncryption: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	got, err := s2.GetEncryption("k1")
	if err != nil {
		t.Fatalf("GetEncryption after reload: %v", err)
	}
	if got != want {
		t.Fatal("key material did not survive persistence round trip")
	}
}

func TestListByTypeAndExpiringBefore(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.nowFunc = func() time.Time { return time.Unix(1_000_000, 0) }

	ttl := 1
	if err := s.GenerateEncryption("soon", "", &ttl); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}
	if err := s.GenerateEncryption("forever", "", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}
	if err := s.GenerateKeypair("X", "", nil); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	if got := len(s.ListByType(Encryption)); got != 2 {
		t.Fatalf("ListByType(Encryption) = %d entries, want 2", got)
	}
	if got := len(s.ListByType(Signing)); got != 1 {
		t.Fatalf("ListByType(Signing) = %d entries, want 1", got)
	}

	expiring := s.ListExpiringBefore(time.Unix(1_000_000+2*86400, 0))
	if len(expiring) != 1 || expiring[0].ID != "soon" {
		t.Fatalf("ListExpiringBefore = %+v, want only %q", expiring, "soon")
	}
}
