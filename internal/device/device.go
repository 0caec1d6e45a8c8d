// Package device persists the stable per-device identity used to attribute
// scouting records. The ID survives restarts and config changes; the display
// name lives in config so renaming a device never orphans its records.
package device

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldline-data/scout.report/internal/fsutil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
)

// IdentityFile is the identity file name inside the data directory.
const IdentityFile = "device.json"

// idLength is the number of hex characters kept from the generated UUID.
const idLength = 12

// Identity is the persisted device identity.
type Identity struct {
	ID string `json:"device_id"`
}

// NewID returns a fresh random device ID: 12 hex characters.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:idLength]
}

// Store reads and writes the identity file.
type Store struct {
	fs   fsutil.FileSystem
	path string
}

// NewStore returns a store for the identity file inside dataDir.
func NewStore(fs fsutil.FileSystem, dataDir string) *Store {
	return &Store{
		fs:   fs,
		path: filepath.Join(dataDir, IdentityFile),
	}
}

// Path returns the identity file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted identity, generating and persisting a fresh one
// when the file is missing, unreadable, or holds no usable ID.
func (s *Store) Load() (Identity, error) {
	if s.fs.Exists(s.path) {
		data, err := s.fs.ReadFile(s.path)
		if err == nil {
			var id Identity
			if jsonErr := json.Unmarshal(data, &id); jsonErr == nil {
				id.ID = strings.TrimSpace(id.ID)
				if id.ID != "" {
					return id, nil
				}
			}
		}
		monitoring.Logf("device: identity file %s unreadable, regenerating", s.path)
	}

	id := Identity{ID: NewID()}
	if err := s.save(id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *Store) save(id Identity) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal device identity: %w", err)
	}
	data = append(data, '\n')

	if err := s.fs.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write device identity: %w", err)
	}
	return nil
}
