// Package uploads holds CSV files received from other scouting devices
// until they are merged. Each file is stored under a random ID prefix so
// two devices exporting the same file name never collide, and files are
// pruned once they outlive MaxAge since merge sessions are short-lived.
package uploads

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline-data/scout.report/internal/fsutil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/security"
	"github.com/fieldline-data/scout.report/internal/timeutil"
)

// MaxAge is how long an upload survives before Prune removes it.
const MaxAge = 24 * time.Hour

// idLength is the number of hex characters kept from the generated UUID.
const idLength = 8

// validName accepts the file and upload IDs we mint ourselves. No path
// separators can pass, so a validated name joined under the store
// directory cannot escape it.
var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var (
	// ErrInvalidName reports a file name or upload ID with characters
	// outside [A-Za-z0-9._-].
	ErrInvalidName = errors.New("invalid upload name")

	// ErrNotFound reports an upload ID with no stored file behind it.
	ErrNotFound = errors.New("upload not found")
)

// Stored describes one held upload.
type Stored struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Uploaded time.Time `json:"uploaded"`
}

// Store keeps uploads as files inside a single directory.
type Store struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock
	dir   string
}

// NewStore returns a store that keeps uploads inside dir.
func NewStore(fs fsutil.FileSystem, clock timeutil.Clock, dir string) *Store {
	return &Store{fs: fs, clock: clock, dir: dir}
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save stores data under a fresh ID derived from name. The returned
// Stored carries the ID callers use for Read and Delete.
func (s *Store) Save(name string, data []byte) (Stored, error) {
	if err := checkName(name); err != nil {
		return Stored{}, err
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return Stored{}, fmt.Errorf("failed to create upload directory %s: %w", s.dir, err)
	}

	id := newID() + "_" + name
	path := filepath.Join(s.dir, id)
	if err := security.ValidatePathWithinDirectory(path, s.dir); err != nil {
		return Stored{}, fmt.Errorf("rejected upload path: %w", err)
	}

	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return Stored{}, fmt.Errorf("failed to store upload %s: %w", name, err)
	}

	return Stored{
		ID:       id,
		Name:     name,
		Size:     int64(len(data)),
		Uploaded: s.clock.Now(),
	}, nil
}

// List returns the held uploads, oldest first. A missing directory means
// nothing has been uploaded yet and yields an empty list.
func (s *Store) List() ([]Stored, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}

	var held []Stored
	for _, entry := range entries {
		if stored, ok := parseStored(entry); ok {
			held = append(held, stored)
		}
	}
	sort.Slice(held, func(i, j int) bool {
		if !held[i].Uploaded.Equal(held[j].Uploaded) {
			return held[i].Uploaded.Before(held[j].Uploaded)
		}
		return held[i].ID < held[j].ID
	})
	return held, nil
}

// Read returns the original file name and contents of the upload with
// the given ID.
func (s *Store) Read(id string) (string, []byte, error) {
	if err := checkName(id); err != nil {
		return "", nil, err
	}

	data, err := s.fs.ReadFile(filepath.Join(s.dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", nil, fmt.Errorf("failed to read upload %s: %w", id, err)
	}

	name := id
	if idx := strings.Index(id, "_"); idx >= 0 && idx < len(id)-1 {
		name = id[idx+1:]
	}
	return name, data, nil
}

// Delete removes the upload with the given ID.
func (s *Store) Delete(id string) error {
	if err := checkName(id); err != nil {
		return err
	}

	path := filepath.Join(s.dir, id)
	if !s.fs.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to delete upload %s: %w", id, err)
	}
	return nil
}

// Prune removes uploads older than MaxAge and reports how many it
// removed. Files that do not look like stored uploads are left alone.
func (s *Store) Prune() (int, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list uploads: %w", err)
	}

	cutoff := s.clock.Now().Add(-MaxAge)
	removed := 0
	for _, entry := range entries {
		stored, ok := parseStored(entry)
		if !ok || !stored.Uploaded.Before(cutoff) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, stored.ID)); err != nil {
			monitoring.Logf("uploads: failed to prune %s: %v", stored.ID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// PruneEvery prunes on the given interval until ctx is cancelled.
func (s *Store) PruneEvery(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			removed, err := s.Prune()
			if err != nil {
				monitoring.Logf("uploads: prune failed: %v", err)
				continue
			}
			if removed > 0 {
				monitoring.Logf("uploads: pruned %d stale upload(s)", removed)
			}
		}
	}
}

// parseStored reconstructs a Stored from a directory entry, reporting
// false for entries that were not written by Save.
func parseStored(entry fs.DirEntry) (Stored, bool) {
	if entry.IsDir() {
		return Stored{}, false
	}
	name := entry.Name()
	idx := strings.Index(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return Stored{}, false
	}
	info, err := entry.Info()
	if err != nil {
		return Stored{}, false
	}
	return Stored{
		ID:       name,
		Name:     name[idx+1:],
		Size:     info.Size(),
		Uploaded: info.ModTime(),
	}, true
}

func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:idLength]
}

func checkName(name string) error {
	if name == "." || name == ".." || !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
