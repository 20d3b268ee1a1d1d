package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"edutrack/internal/logging"
)

// Checksum returns the SHA-256 hex digest of a document.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SnapshotStore keeps downloaded source documents content-addressed by their
// SHA-256 digest. Saving the same bytes twice is a no-op, which is what lets
// re-ingestion of an unchanged document skip the parse.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates the snapshot directory under the storage root.
func NewSnapshotStore(storageDir string) (*SnapshotStore, error) {
	dir := filepath.Join(storageDir, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

// Save stores a document snapshot and returns its checksum and path. An
// existing snapshot with the same digest is left untouched.
func (s *SnapshotStore) Save(data []byte) (string, string, error) {
	checksum := Checksum(data)
	path := s.Path(checksum)

	if _, err := os.Stat(path); err == nil {
		logging.VaultDebug("Snapshot %s already stored", checksum[:12])
		return checksum, path, nil
	}

	// Write through a temp file so a crash never leaves a half-written
	// snapshot under a valid digest name.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("failed to commit snapshot: %w", err)
	}

	logging.Vault("Stored snapshot %s (%d bytes)", checksum[:12], len(data))
	return checksum, path, nil
}

// Has reports whether a snapshot with the given checksum exists.
func (s *SnapshotStore) Has(checksum string) bool {
	_, err := os.Stat(s.Path(checksum))
	return err == nil
}

// Path returns where a snapshot with the given checksum lives.
func (s *SnapshotStore) Path(checksum string) string {
	return filepath.Join(s.dir, checksum)
}

// Load reads a snapshot back and verifies its digest still matches.
func (s *SnapshotStore) Load(checksum string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(checksum))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", checksum, err)
	}
	if got := Checksum(data); got != checksum {
		return nil, fmt.Errorf("snapshot %s is corrupted (digest %s)", checksum, got)
	}
	return data, nil
}
