package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxFeedBytes caps the release feed response size.
const maxFeedBytes = 4 << 20

// Release is one entry from the GitHub releases feed.
type Release struct {
	TagName    string  `json:"tag_name"`
	Name       string  `json:"name"`
	Draft      bool    `json:"draft"`
	Prerelease bool    `json:"prerelease"`
	HTMLURL    string  `json:"html_url"`
	Assets     []Asset `json:"assets"`
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// fetchLatest returns the newest stable release from the feed, retrying
// transient failures with exponential backoff. Drafts and prereleases
// are skipped.
func (m *Manager) fetchLatest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=10", m.baseURL, m.repo)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			m.clock.Sleep(retryBase << (attempt - 1))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		release, retry, err := m.fetchReleasesOnce(ctx, url)
		if err == nil {
			return release, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}
	return nil, fmt.Errorf("release feed unavailable after %d attempts: %w", maxAttempts, lastErr)
}

// fetchReleasesOnce performs one feed request. The second return value
// reports whether the failure is worth retrying.
func (m *Manager) fetchReleasesOnce(ctx context.Context, url string) (*Release, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("release feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("release feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var releases []Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&releases); err != nil {
		return nil, false, fmt.Errorf("failed to decode release feed: %w", err)
	}

	for i := range releases {
		if releases[i].Draft || releases[i].Prerelease {
			continue
		}
		return &releases[i], false, nil
	}
	return nil, false, fmt.Errorf("no stable release published for %s", m.repo)
}

// archAliases maps a GOARCH value to other spellings seen in asset names.
var archAliases = map[string][]string{
	"amd64": {"x86_64", "x64"},
	"arm64": {"aarch64"},
	"386":   {"i386", "x86"},
}

// osAliases maps a GOOS value to other spellings seen in asset names.
var osAliases = map[string][]string{
	"darwin":  {"macos", "osx"},
	"windows": {"win"},
}

// pickAsset chooses the release asset that best matches the platform,
// scoring name substrings. Checksum sidecars are never chosen.
func pickAsset(assets []Asset, goos, goarch string) (Asset, bool) {
	best := -1
	var chosen Asset
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if strings.HasSuffix(name, ".sha256") {
			continue
		}

		score := 0
		if containsAny(name, append([]string{goos}, osAliases[goos]...)) {
			score += 2
		}
		if containsAny(name, append([]string{goarch}, archAliases[goarch]...)) {
			score += 2
		}
		if score > best {
			best = score
			chosen = a
		}
	}
	if best <= 0 {
		return Asset{}, false
	}
	return chosen, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// findChecksum returns the sidecar asset holding the sha256 for name,
// when the release publishes one.
func findChecksum(assets []Asset, name string) (Asset, bool) {
	for _, a := range assets {
		if a.Name == name+".sha256" {
			return a, true
		}
	}
	return Asset{}, false
}

// parseChecksum extracts the hex digest from a sha256 sidecar body,
// which is either a bare digest or sha256sum output ("digest  name").
func parseChecksum(body string) (string, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	digest := strings.ToLower(fields[0])
	if len(digest) != 64 {
		return "", fmt.Errorf("malformed checksum %q", fields[0])
	}
	for _, r := range digest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("malformed checksum %q", fields[0])
		}
	}
	return digest, nil
}
