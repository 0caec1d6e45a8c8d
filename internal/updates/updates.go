// Package updates checks a GitHub releases feed for newer builds,
// downloads the platform asset with checksum verification, and swaps the
// running executable in place. All transitions go through a single state
// machine so the HTTP surface can report exactly where an update stands.
package updates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fieldline-data/scout.report/internal/fsutil"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/security"
	"github.com/fieldline-data/scout.report/internal/timeutil"
	"github.com/fieldline-data/scout.report/internal/version"
)

const (
	// CheckTimeout bounds each release feed request.
	CheckTimeout = 10 * time.Second

	// CheckCooldown is the minimum gap between unforced checks.
	CheckCooldown = 24 * time.Hour

	// maxAttempts is how many times a feed request is tried.
	maxAttempts = 3

	// retryBase is the first retry delay; later attempts double it.
	retryBase = 750 * time.Millisecond

	defaultBaseURL = "https://api.github.com"
	userAgent      = "scout.report-updater"
)

// State is one position in the update lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateUpToDate    State = "up_to_date"
	StateAvailable   State = "available"
	StateDownloading State = "downloading"
	StateDownloaded  State = "downloaded"
	StateApplying    State = "applying"
	StateApplied     State = "applied"
	StateError       State = "error"
)

// Status is a point-in-time snapshot of the update lifecycle.
type Status struct {
	State          State     `json:"state"`
	CurrentVersion string    `json:"current_version"`
	LatestVersion  string    `json:"latest_version,omitempty"`
	ReleaseURL     string    `json:"release_url,omitempty"`
	AssetName      string    `json:"asset_name,omitempty"`
	Progress       float64   `json:"progress"`
	Error          string    `json:"error,omitempty"`
	LastChecked    time.Time `json:"last_checked,omitzero"`
}

// Options configures a Manager.
type Options struct {
	// Repo is the GitHub "owner/name" releases are fetched from.
	Repo string

	// Current is the running version string.
	Current string

	// Dir is the staging directory for downloaded assets.
	Dir string

	// ExecPath is the binary Apply replaces. Empty means the running
	// executable.
	ExecPath string

	// BaseURL overrides the GitHub API base, for tests.
	BaseURL string
}

// Manager drives the update lifecycle. All methods are safe for
// concurrent use.
type Manager struct {
	client  httputil.HTTPClient
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	repo    string
	dir     string
	exePath string
	baseURL string

	mu         sync.Mutex
	status     Status
	release    *Release
	stagedPath string
	stagedTag  string
	token      uint64
}

// NewManager returns a manager in the Idle state. A nil client gets a
// standard client bounded by CheckTimeout.
func NewManager(client httputil.HTTPClient, fs fsutil.FileSystem, clock timeutil.Clock, opts Options) *Manager {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: CheckTimeout})
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Manager{
		client:  client,
		fs:      fs,
		clock:   clock,
		repo:    opts.Repo,
		dir:     opts.Dir,
		exePath: opts.ExecPath,
		baseURL: baseURL,
		status: Status{
			State:          StateIdle,
			CurrentVersion: opts.Current,
		},
	}
}

// Status returns the current lifecycle snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Check queries the release feed and moves to Available or UpToDate.
// Unforced checks inside the cooldown window return the current status
// untouched; so do checks while a download or apply is in flight. When
// two checks overlap, the later one wins and the earlier response is
// discarded.
func (m *Manager) Check(ctx context.Context, force bool) (Status, error) {
	m.mu.Lock()
	if m.repo == "" {
		st := m.status
		m.mu.Unlock()
		return st, fmt.Errorf("no update repository configured")
	}
	if m.status.State == StateDownloading || m.status.State == StateApplying {
		st := m.status
		m.mu.Unlock()
		return st, nil
	}
	if !force && !m.status.LastChecked.IsZero() && m.clock.Now().Sub(m.status.LastChecked) < CheckCooldown {
		st := m.status
		m.mu.Unlock()
		return st, nil
	}
	m.token++
	token := m.token
	m.status.State = StateChecking
	m.status.Error = ""
	m.mu.Unlock()

	release, err := m.fetchLatest(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.token {
		return m.status, nil
	}
	m.status.LastChecked = m.clock.Now()
	if err != nil {
		m.status.State = StateError
		m.status.Error = err.Error()
		return m.status, err
	}

	m.release = release
	m.status.LatestVersion = release.TagName
	m.status.ReleaseURL = release.HTMLURL
	if !version.Newer(release.TagName, m.status.CurrentVersion) {
		m.status.State = StateUpToDate
		return m.status, nil
	}
	if m.stagedTag == release.TagName && m.stagedPath != "" {
		m.status.State = StateDownloaded
	} else {
		m.status.State = StateAvailable
	}
	return m.status, nil
}

// Download fetches the platform asset for the available release into the
// staging directory and verifies its sha256 sidecar when the release
// publishes one.
func (m *Manager) Download(ctx context.Context) (Status, error) {
	m.mu.Lock()
	if m.status.State != StateAvailable && m.status.State != StateDownloaded {
		st := m.status
		m.mu.Unlock()
		return st, fmt.Errorf("no update available to download (state %s)", st.State)
	}
	release := m.release
	m.status.State = StateDownloading
	m.status.Progress = 0
	m.status.Error = ""
	m.mu.Unlock()

	staged, asset, err := m.downloadRelease(ctx, release)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status.State = StateError
		m.status.Error = err.Error()
		return m.status, err
	}
	m.stagedPath = staged
	m.stagedTag = release.TagName
	m.status.State = StateDownloaded
	m.status.AssetName = asset.Name
	m.status.Progress = 1
	return m.status, nil
}

// Apply swaps the running executable for the downloaded one, keeping the
// previous binary beside it with an ".old" suffix. The new build starts
// on the next restart.
func (m *Manager) Apply(ctx context.Context) (Status, error) {
	m.mu.Lock()
	if m.status.State != StateDownloaded {
		st := m.status
		m.mu.Unlock()
		return st, fmt.Errorf("no downloaded update to apply (state %s)", st.State)
	}
	staged := m.stagedPath
	m.status.State = StateApplying
	m.status.Error = ""
	m.mu.Unlock()

	err := m.swapExecutable(staged)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status.State = StateError
		m.status.Error = err.Error()
		return m.status, err
	}
	m.stagedPath = ""
	m.status.State = StateApplied
	monitoring.Logf("updates: installed %s, restart to run it", m.status.LatestVersion)
	return m.status, nil
}

// downloadRelease streams the chosen asset to the staging directory,
// hashing as it writes, then checks the sidecar digest.
func (m *Manager) downloadRelease(ctx context.Context, release *Release) (string, Asset, error) {
	asset, ok := pickAsset(release.Assets, runtime.GOOS, runtime.GOARCH)
	if !ok {
		return "", Asset{}, fmt.Errorf("release %s has no asset for %s/%s", release.TagName, runtime.GOOS, runtime.GOARCH)
	}

	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return "", Asset{}, fmt.Errorf("failed to create staging directory %s: %w", m.dir, err)
	}
	staged := filepath.Join(m.dir, security.SanitizeFilename(asset.Name))

	resp, err := m.get(ctx, asset.BrowserDownloadURL, "application/octet-stream")
	if err != nil {
		return "", Asset{}, fmt.Errorf("asset download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Asset{}, fmt.Errorf("asset download status %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = asset.Size
	}

	out, err := m.fs.Create(staged)
	if err != nil {
		return "", Asset{}, fmt.Errorf("failed to create staged file: %w", err)
	}

	hash := sha256.New()
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			m.fs.Remove(staged)
			return "", Asset{}, err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				m.fs.Remove(staged)
				return "", Asset{}, fmt.Errorf("failed to write staged file: %w", werr)
			}
			hash.Write(buf[:n])
			written += int64(n)
			if total > 0 {
				m.setProgress(float64(written) / float64(total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			m.fs.Remove(staged)
			return "", Asset{}, fmt.Errorf("asset download interrupted: %w", rerr)
		}
	}
	if err := out.Close(); err != nil {
		m.fs.Remove(staged)
		return "", Asset{}, fmt.Errorf("failed to finish staged file: %w", err)
	}

	if err := m.verifyChecksum(ctx, release, asset, hex.EncodeToString(hash.Sum(nil))); err != nil {
		m.fs.Remove(staged)
		return "", Asset{}, err
	}
	return staged, asset, nil
}

// verifyChecksum compares the streamed digest against the published
// sidecar. A release without a sidecar is accepted with a log line.
func (m *Manager) verifyChecksum(ctx context.Context, release *Release, asset Asset, got string) error {
	sidecar, ok := findChecksum(release.Assets, asset.Name)
	if !ok {
		monitoring.Logf("updates: release %s publishes no checksum for %s", release.TagName, asset.Name)
		return nil
	}

	resp, err := m.get(ctx, sidecar.BrowserDownloadURL, "")
	if err != nil {
		return fmt.Errorf("checksum download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("checksum download status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read checksum: %w", err)
	}
	want, err := parseChecksum(string(body))
	if err != nil {
		return err
	}
	if want != got {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", asset.Name, got, want)
	}
	return nil
}

// swapExecutable installs the staged binary over the target executable,
// keeping the previous one as "<path>.old" for manual rollback.
func (m *Manager) swapExecutable(staged string) error {
	exe := m.exePath
	if exe == "" {
		path, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate running executable: %w", err)
		}
		exe = path
	}

	data, err := m.fs.ReadFile(staged)
	if err != nil {
		return fmt.Errorf("failed to read staged update: %w", err)
	}

	// Write beside the target so the final renames stay on one filesystem.
	next := exe + ".new"
	if err := m.fs.WriteFile(next, data, 0o755); err != nil {
		return fmt.Errorf("failed to stage new executable: %w", err)
	}

	backup := exe + ".old"
	m.fs.Remove(backup)
	if err := m.fs.Rename(exe, backup); err != nil {
		m.fs.Remove(next)
		return fmt.Errorf("failed to set aside current executable: %w", err)
	}
	if err := m.fs.Rename(next, exe); err != nil {
		m.fs.Rename(backup, exe)
		return fmt.Errorf("failed to install new executable: %w", err)
	}
	m.fs.Remove(staged)
	return nil
}

func (m *Manager) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return m.client.Do(req)
}

func (m *Manager) setProgress(p float64) {
	if p > 1 {
		p = 1
	}
	m.mu.Lock()
	m.status.Progress = p
	m.mu.Unlock()
}
