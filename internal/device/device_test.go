package device

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-data/scout.report/internal/fsutil"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()

	assert.Regexp(t, idPattern, a)
	assert.Regexp(t, idPattern, b)
	assert.NotEqual(t, a, b)
}

func TestLoadCreatesIdentityOnFirstRun(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	store := NewStore(fs, "/data")

	id, err := store.Load()
	require.NoError(t, err)
	assert.Regexp(t, idPattern, id.ID)

	// The identity was persisted as JSON.
	data, err := fs.ReadFile(store.Path())
	require.NoError(t, err)
	var onDisk Identity
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, id.ID, onDisk.ID)
}

func TestLoadIsStable(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	store := NewStore(fs, "/data")

	first, err := store.Load()
	require.NoError(t, err)
	second, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestLoadKeepsExistingID(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/data/device.json", []byte(`{"device_id":"abc123def456"}`), 0o644))

	store := NewStore(fs, "/data")
	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", id.ID)
}

func TestLoadRegeneratesCorruptFile(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "this is not json"},
		{"empty id", `{"device_id":""}`},
		{"whitespace id", `{"device_id":"   "}`},
		{"wrong shape", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := fsutil.NewMemoryFileSystem()
			require.NoError(t, fs.WriteFile("/data/device.json", []byte(tt.body), 0o644))

			store := NewStore(fs, "/data")
			id, err := store.Load()
			require.NoError(t, err)
			assert.Regexp(t, idPattern, id.ID)

			// The repaired identity round-trips.
			again, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, id.ID, again.ID)
		})
	}
}
