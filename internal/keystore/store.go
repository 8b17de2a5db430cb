// Package keystore manages the gateway's cryptographic key material:
// generation, import, lookup, expiry, rotation, and optional on-disk
// persistence. It is the sole owner of key material; the security
// envelope is the only caller that fetches key material, while
// cmd/gatewayd and the control-plane API also call it for rotation and
// metadata inventory.
package keystore

import (
	"fmt"
	"sync"
	"time"

	"github.com/halyardsys/protogate/internal/crypto"
	"github.com/halyardsys/protogate/internal/gwerrors"
)

// Store holds keys in memory behind a reader-writer discipline: fetches
// run concurrently, generation/rotation/deletion are mutually exclusive.
// When constructed with a storage path, every mutation is immediately
// flushed to disk; construction loads an existing file (absent = empty).
type Store struct {
	mu      sync.RWMutex
	keys    map[string]entry
	path    string // empty means in-memory only
	nowFunc func() time.Time
}

// Open constructs a Store. If path is non-empty, an existing keyset file
// is loaded (a missing file is treated as an empty keyset); every
// subsequent mutating operation rewrites the file in full.
func Open(path string) (*Store, error) {
	s := &Store{
		keys:    make(map[string]entry),
		path:    path,
		nowFunc: time.Now,
	}

	if path == "" {
		return s, nil
	}

	loaded, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	s.keys = loaded
	return s, nil
}

func (s *Store) now() time.Time { return s.nowFunc() }

func ttlToExpiry(now time.Time, ttlDays *int) *int64 {
	if ttlDays == nil {
		return nil
	}
	exp := now.Add(time.Duration(*ttlDays) * 24 * time.Hour).Unix()
	return &exp
}

// GenerateEncryption creates a fresh random ChaCha20-Poly1305 key under id.
func (s *Store) GenerateEncryption(id, description string, ttlDays *int) error {
	key, err := crypto.GenerateEncryptionKey()
	if err != nil {
		return fmt.Errorf("%w: %v", gwerrors.ErrKeyError, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = entry{
		Metadata: Metadata{
			ID:           id,
			KeyType:      Encryption,
			CreatedAtSec: s.now().Unix(),
			ExpiresAtSec: ttlToExpiry(s.now(), ttlDays),
			Description:  description,
		},
		KeyData: key[:],
	}
	return s.persistLocked()
}

// GenerateKeypair creates a fresh Ed25519 signing keypair, writing
// "<baseID>-signing" (the 32-byte seed) and "<baseID>-verify" (the public key).
func (s *Store) GenerateKeypair(baseID, description string, ttlDays *int) error {
	seed, pub, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return fmt.Errorf("%w: %v", gwerrors.ErrKeyError, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expiry := ttlToExpiry(now, ttlDays)

	s.keys[signingID(baseID)] = entry{
		Metadata: Metadata{ID: signingID(baseID), KeyType: Signing, CreatedAtSec: now.Unix(), ExpiresAtSec: expiry, Description: description},
		KeyData:  seed[:],
	}
	s.keys[verifyID(baseID)] = entry{
		Metadata: Metadata{ID: verifyID(baseID), KeyType: Verification, CreatedAtSec: now.Unix(), ExpiresAtSec: expiry, Description: description},
		KeyData:  pub[:],
	}
	return s.persistLocked()
}

func signingID(base string) string { return base + "-signing" }
func verifyID(base string) string  { return base + "-verify" }

// Import stores caller-supplied key bytes under id, validating the length
// against the declared type's expected size.
func (s *Store) Import(id string, keyType KeyType, data []byte, description string, ttlDays *int) error {
	e := entry{
		Metadata: Metadata{
			ID:          id,
			KeyType:     keyType,
			Description: description,
		},
		KeyData: append([]byte(nil), data...),
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("%w: %v", gwerrors.ErrKeyError, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e.Metadata.CreatedAtSec = s.now().Unix()
	e.Metadata.ExpiresAtSec = ttlToExpiry(s.now(), ttlDays)
	s.keys[id] = e
	return s.persistLocked()
}

func (s *Store) fetch(id string, want KeyType) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such key %q", gwerrors.ErrKeyError, id)
	}
	if e.Metadata.KeyType != want {
		return nil, fmt.Errorf("%w: key %q is type %s, expected %s", gwerrors.ErrKeyError, id, e.Metadata.KeyType, want)
	}
	if e.Metadata.ExpiresAtSec != nil && *e.Metadata.ExpiresAtSec < s.now().Unix() {
		return nil, fmt.Errorf("%w: key %q expired at %d", gwerrors.ErrKeyError, id, *e.Metadata.ExpiresAtSec)
	}
	return e.KeyData, nil
}

// GetEncryption fetches a 32-byte encryption key by id.
func (s *Store) GetEncryption(id string) ([crypto.KeySize]byte, error) {
	var out [crypto.KeySize]byte
	data, err := s.fetch(id, Encryption)
	if err != nil {
		return out, err
	}
	copy(out[:], data)
	return out, nil
}

// GetSigning fetches a 32-byte Ed25519 seed by id.
func (s *Store) GetSigning(id string) ([crypto.SigningSeedSize]byte, error) {
	var out [crypto.SigningSeedSize]byte
	data, err := s.fetch(id, Signing)
	if err != nil {
		return out, err
	}
	copy(out[:], data)
	return out, nil
}

// GetVerification fetches a 32-byte Ed25519 public key by id.
func (s *Store) GetVerification(id string) ([crypto.VerificationKeySize]byte, error) {
	var out [crypto.VerificationKeySize]byte
	data, err := s.fetch(id, Verification)
	if err != nil {
		return out, err
	}
	copy(out[:], data)
	return out, nil
}

// List returns metadata for every non-expired-or-not key currently stored.
// Expired keys are included here (List is an inventory operation, not a
// getter); only the typed Get* accessors hide expired keys.
func (s *Store) List() []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Metadata, 0, len(s.keys))
	for _, e := range s.keys {
		out = append(out, e.Metadata)
	}
	return out
}

// ListByType returns metadata for every stored key of the given type.
func (s *Store) ListByType(t KeyType) []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metadata
	for _, e := range s.keys {
		if e.Metadata.KeyType == t {
			out = append(out, e.Metadata)
		}
	}
	return out
}

// ListExpiringBefore returns metadata for keys whose expiry is set and
// falls before the given time. Keys with no expiry are never included.
func (s *Store) ListExpiringBefore(t time.Time) []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metadata
	cutoff := t.Unix()
	for _, e := range s.keys {
		if e.Metadata.ExpiresAtSec != nil && *e.Metadata.ExpiresAtSec < cutoff {
			out = append(out, e.Metadata)
		}
	}
	return out
}

// Delete removes a key by id. Deleting a nonexistent id is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return s.persistLocked()
}

// RotateEncryption generates a fresh key under newID and, only if
// requested and the generation succeeded, deletes oldID. Rotation is
// deliberately non-atomic: if the delete step fails, the new key is
// retained and the old key simply lives on.
func (s *Store) RotateEncryption(oldID, newID, description string, ttlDays *int, deleteOld bool) error {
	if err := s.GenerateEncryption(newID, description, ttlDays); err != nil {
		return err
	}
	if deleteOld {
		return s.Delete(oldID)
	}
	return nil
}

// RotateKeypair generates a fresh signing keypair under newBase and,
// only if requested, deletes the old base's signing/verify pair.
func (s *Store) RotateKeypair(oldBase, newBase, description string, ttlDays *int, deleteOld bool) error {
	if err := s.GenerateKeypair(newBase, description, ttlDays); err != nil {
		return err
	}
	if deleteOld {
		if err := s.Delete(signingID(oldBase)); err != nil {
			return err
		}
		return s.Delete(verifyID(oldBase))
	}
	return nil
}
