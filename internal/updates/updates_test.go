package updates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-data/scout.report/internal/fsutil"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/timeutil"
)

const testExecPath = "/app/scout"

func newTestManager(client httputil.HTTPClient, current string) (*Manager, *fsutil.MemoryFileSystem, *timeutil.MockClock) {
	fs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	m := NewManager(client, fs, clock, Options{
		Repo:     "fieldline-data/scout.report",
		Current:  current,
		Dir:      "/data/updates",
		ExecPath: testExecPath,
	})
	return m, fs, clock
}

func stable(tag string, assets ...Asset) Release {
	return Release{
		TagName: tag,
		Name:    tag,
		HTMLURL: "https://github.com/fieldline-data/scout.report/releases/tag/" + tag,
		Assets:  assets,
	}
}

func feedJSON(t *testing.T, releases ...Release) string {
	t.Helper()
	data, err := json.Marshal(releases)
	require.NoError(t, err)
	return string(data)
}

// platformAsset names an asset for the running platform so pickAsset
// chooses it regardless of where the tests run.
func platformAsset(size int64) Asset {
	name := "scout_" + runtime.GOOS + "_" + runtime.GOARCH
	return Asset{
		Name:               name,
		Size:               size,
		BrowserDownloadURL: "https://example.com/dl/" + name,
	}
}

func sidecarFor(payload []byte, assetName string) (Asset, string) {
	digest := sha256.Sum256(payload)
	body := hex.EncodeToString(digest[:]) + "  " + assetName + "\n"
	return Asset{
		Name:               assetName + ".sha256",
		BrowserDownloadURL: "https://example.com/dl/" + assetName + ".sha256",
	}, body
}

func TestCheckFindsNewerRelease(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t,
		Release{TagName: "v2.0.0-rc1", Prerelease: true},
		Release{TagName: "v1.9.0", Draft: true},
		stable("v1.2.0"),
	))
	m, _, clock := newTestManager(client, "1.0.0")

	st, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, st.State)
	assert.Equal(t, "v1.2.0", st.LatestVersion)
	assert.Equal(t, "https://github.com/fieldline-data/scout.report/releases/tag/v1.2.0", st.ReleaseURL)
	assert.True(t, st.LastChecked.Equal(clock.Now()))

	req := client.GetRequest(0)
	require.NotNil(t, req)
	assert.Contains(t, req.URL.String(), "/repos/fieldline-data/scout.report/releases")
	assert.Equal(t, "application/vnd.github+json", req.Header.Get("Accept"))
	assert.NotEmpty(t, req.Header.Get("User-Agent"))
}

func TestCheckUpToDate(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.0.0")))
	m, _, _ := newTestManager(client, "1.0.0")

	st, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StateUpToDate, st.State)
	assert.Equal(t, "v1.0.0", st.LatestVersion)
}

func TestCheckRetriesTransientFailures(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(io.ErrUnexpectedEOF)
	client.AddResponse(http.StatusInternalServerError, "boom")
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.1.0")))
	m, _, clock := newTestManager(client, "1.0.0")

	st, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, st.State)
	assert.Equal(t, 3, client.RequestCount())
	assert.Equal(t, []time.Duration{750 * time.Millisecond, 1500 * time.Millisecond}, clock.Sleeps())
}

func TestCheckGivesUpAfterRetries(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.DefaultError = io.ErrUnexpectedEOF
	m, _, _ := newTestManager(client, "1.0.0")

	st, err := m.Check(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, StateError, st.State)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 3, client.RequestCount())
}

func TestCheckDoesNotRetryClientErrors(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusNotFound, "no such repo")
	m, _, _ := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 1, client.RequestCount())
}

func TestCheckCooldown(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.0.0")))
	m, _, clock := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, client.RequestCount())

	// Inside the cooldown an unforced check stays silent.
	st, err := m.Check(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StateUpToDate, st.State)
	assert.Equal(t, 1, client.RequestCount())

	// A forced check goes out regardless.
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.0.0")))
	_, err = m.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, client.RequestCount())

	// Past the cooldown the unforced check fetches again.
	clock.Advance(CheckCooldown + time.Minute)
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.1.0")))
	st, err = m.Check(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, st.State)
	assert.Equal(t, 3, client.RequestCount())
}

func TestCheckWithoutRepo(t *testing.T) {
	m, _, _ := newTestManager(httputil.NewMockHTTPClient(), "1.0.0")
	m.repo = ""

	_, err := m.Check(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no update repository")
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	payload := []byte("new-binary-v1.2.0")
	asset := platformAsset(int64(len(payload)))
	sidecar, sidecarBody := sidecarFor(payload, asset.Name)

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0", asset, sidecar)))
	client.AddResponse(http.StatusOK, string(payload))
	client.AddResponse(http.StatusOK, sidecarBody)
	m, fs, _ := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), true)
	require.NoError(t, err)

	st, err := m.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDownloaded, st.State)
	assert.Equal(t, asset.Name, st.AssetName)
	assert.Equal(t, 1.0, st.Progress)

	staged, err := fs.ReadFile(filepath.Join("/data/updates", asset.Name))
	require.NoError(t, err)
	assert.Equal(t, payload, staged)
}

func TestDownloadChecksumMismatch(t *testing.T) {
	payload := []byte("new-binary-v1.2.0")
	asset := platformAsset(int64(len(payload)))
	sidecar, _ := sidecarFor(payload, asset.Name)

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0", asset, sidecar)))
	client.AddResponse(http.StatusOK, string(payload))
	client.AddResponse(http.StatusOK, strings.Repeat("0", 64)+"  "+asset.Name+"\n")
	m, fs, _ := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), true)
	require.NoError(t, err)

	st, err := m.Download(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Equal(t, StateError, st.State)
	assert.False(t, fs.Exists(filepath.Join("/data/updates", asset.Name)))
}

func TestDownloadWithoutSidecar(t *testing.T) {
	payload := []byte("new-binary-v1.2.0")
	asset := platformAsset(int64(len(payload)))

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0", asset)))
	client.AddResponse(http.StatusOK, string(payload))
	m, _, _ := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), true)
	require.NoError(t, err)

	st, err := m.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDownloaded, st.State)
}

func TestDownloadNoPlatformAsset(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0",
		Asset{Name: "README.md", BrowserDownloadURL: "https://example.com/README.md"},
	)))
	m, _, _ := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), true)
	require.NoError(t, err)

	st, err := m.Download(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no asset for")
	assert.Equal(t, StateError, st.State)
}

func TestDownloadRequiresAvailable(t *testing.T) {
	m, _, _ := newTestManager(httputil.NewMockHTTPClient(), "1.0.0")

	_, err := m.Download(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no update available")
}

func TestApplySwapsExecutable(t *testing.T) {
	payload := []byte("new-binary-v1.2.0")
	asset := platformAsset(int64(len(payload)))
	sidecar, sidecarBody := sidecarFor(payload, asset.Name)

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0", asset, sidecar)))
	client.AddResponse(http.StatusOK, string(payload))
	client.AddResponse(http.StatusOK, sidecarBody)
	m, fs, _ := newTestManager(client, "1.0.0")
	require.NoError(t, fs.WriteFile(testExecPath, []byte("old-binary"), 0o755))

	_, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	_, err = m.Download(context.Background())
	require.NoError(t, err)

	st, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateApplied, st.State)

	installed, err := fs.ReadFile(testExecPath)
	require.NoError(t, err)
	assert.Equal(t, payload, installed)

	previous, err := fs.ReadFile(testExecPath + ".old")
	require.NoError(t, err)
	assert.Equal(t, []byte("old-binary"), previous)

	// The staged copy is consumed by the swap.
	assert.False(t, fs.Exists(filepath.Join("/data/updates", asset.Name)))
}

func TestApplyRequiresDownload(t *testing.T) {
	m, _, _ := newTestManager(httputil.NewMockHTTPClient(), "1.0.0")

	_, err := m.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no downloaded update")
}

func TestCheckAfterDownloadKeepsDownloadedState(t *testing.T) {
	payload := []byte("new-binary-v1.2.0")
	asset := platformAsset(int64(len(payload)))

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0", asset)))
	client.AddResponse(http.StatusOK, string(payload))
	client.AddResponse(http.StatusOK, feedJSON(t, stable("v1.2.0", asset)))
	m, _, _ := newTestManager(client, "1.0.0")

	_, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	_, err = m.Download(context.Background())
	require.NoError(t, err)

	st, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StateDownloaded, st.State)
}

// funcClient avoids MockHTTPClient's internal lock so a response can be
// held open while another request proceeds.
type funcClient struct {
	do func(req *http.Request) (*http.Response, error)
}

func (f *funcClient) Do(req *http.Request) (*http.Response, error) { return f.do(req) }

func (f *funcClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return f.do(req)
}

func (f *funcClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return f.do(req)
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestCheckLatestRequestWins(t *testing.T) {
	staleFeed := feedJSON(t, stable("v1.1.0"))
	freshFeed := feedJSON(t, stable("v1.2.0"))

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var calls int32
	client := &funcClient{do: func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(firstStarted)
			<-releaseFirst
			return okResponse(staleFeed), nil
		}
		return okResponse(freshFeed), nil
	}}
	m, _, _ := newTestManager(client, "1.0.0")

	done := make(chan struct{})
	go func() {
		m.Check(context.Background(), true)
		close(done)
	}()
	<-firstStarted

	st, err := m.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", st.LatestVersion)

	close(releaseFirst)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("first check did not finish")
	}

	final := m.Status()
	assert.Equal(t, StateAvailable, final.State)
	assert.Equal(t, "v1.2.0", final.LatestVersion)
}

func TestPickAsset(t *testing.T) {
	assets := []Asset{
		{Name: "scout_1.2.0_linux_amd64.tar.gz"},
		{Name: "scout_1.2.0_linux_arm64.tar.gz"},
		{Name: "scout_1.2.0_darwin_arm64.tar.gz"},
		{Name: "scout_1.2.0_windows_x86_64.zip"},
		{Name: "scout_1.2.0_linux_amd64.tar.gz.sha256"},
		{Name: "checksums.txt"},
	}

	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"linux", "amd64", "scout_1.2.0_linux_amd64.tar.gz"},
		{"linux", "arm64", "scout_1.2.0_linux_arm64.tar.gz"},
		{"darwin", "arm64", "scout_1.2.0_darwin_arm64.tar.gz"},
		{"windows", "amd64", "scout_1.2.0_windows_x86_64.zip"},
	}

	for _, tt := range tests {
		got, ok := pickAsset(assets, tt.goos, tt.goarch)
		require.True(t, ok, "%s/%s", tt.goos, tt.goarch)
		assert.Equal(t, tt.want, got.Name, "%s/%s", tt.goos, tt.goarch)
	}

	_, ok := pickAsset([]Asset{{Name: "notes.txt"}}, "linux", "amd64")
	assert.False(t, ok)

	_, ok = pickAsset([]Asset{{Name: "scout_linux_amd64.sha256"}}, "linux", "amd64")
	assert.False(t, ok, "sidecar alone must not be chosen")
}

func TestParseChecksum(t *testing.T) {
	digest := strings.Repeat("ab", 32)

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"bare digest", digest, digest, false},
		{"sha256sum format", digest + "  scout_linux_amd64\n", digest, false},
		{"uppercase", strings.ToUpper(digest), digest, false},
		{"empty", "", "", true},
		{"short", "abc123", "", true},
		{"not hex", strings.Repeat("zz", 32), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseChecksum(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
