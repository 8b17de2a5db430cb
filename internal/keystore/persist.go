package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileFormat is the on-disk representation of the full keyset.
type fileFormat struct {
	Version int     `json:"version"`
	Keys    []entry `json:"keys"`
}

const currentFileVersion = 1

func loadFile(path string) (map[string]entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: reading %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("keystore: parsing %s: %w", path, err)
	}

	keys := make(map[string]entry, len(ff.Keys))
	for _, e := range ff.Keys {
		keys[e.Metadata.ID] = e
	}
	return keys, nil
}

// persistLocked serializes the full keyset and replaces the store's file
// via write-temp-then-rename, so a crash mid-write never leaves a
// truncated or partially-written keyset on disk. Must be called with
// s.mu held for writing. A no-op when the store is in-memory only.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	ff := fileFormat{Version: currentFileVersion, Keys: make([]entry, 0, len(s.keys))}
	for _, e := range s.keys {
		ff.Keys = append(ff.Keys, e)
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshaling keyset: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("keystore: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".keystore-*.tmp")
	if err != nil {
		return fmt.Errorf("keystore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: writing temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: renaming into place: %w", err)
	}
	return nil
}
