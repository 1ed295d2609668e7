// Package version provides version information and update checking.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// Version is the current version of webdap
	Version = "0.1.0"

	// GitHubRepo is the repository path
	GitHubRepo = "crollins/webdap"
)

const defaultReleaseURL = "https://api.github.com/repos/" + GitHubRepo + "/releases/latest"

// UpdateInfo describes the latest published release relative to the running
// build.
type UpdateInfo struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
	Available      bool
}

// UpdateMessage returns a human-readable update notice, or "" when the
// running build is current.
func (u *UpdateInfo) UpdateMessage() string {
	if !u.Available {
		return ""
	}
	return fmt.Sprintf("a new webdap release is available: v%s (running v%s), see %s",
		u.LatestVersion, u.CurrentVersion, u.ReleaseURL)
}

// Checker queries the release feed for a newer version.
type Checker struct {
	client *http.Client
	url    string
}

// NewChecker creates a checker against the project's GitHub releases.
func NewChecker() *Checker {
	return &Checker{
		client: &http.Client{Timeout: 5 * time.Second},
		url:    defaultReleaseURL,
	}
}

// Check fetches the latest release and compares it to the running version.
func (c *Checker) Check(ctx context.Context) (*UpdateInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "webdap/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query release feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release feed returned status %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release feed: %w", err)
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	return &UpdateInfo{
		CurrentVersion: Version,
		LatestVersion:  latest,
		ReleaseURL:     release.HTMLURL,
		Available:      Compare(Version, latest) < 0,
	}, nil
}

// NotifyAsync checks the release feed in the background and logs when an
// update exists. Failures are silent: update checking must never affect a
// debug session.
func (c *Checker) NotifyAsync(log *zap.Logger) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info, err := c.Check(ctx)
		if err != nil || !info.Available {
			return
		}
		log.Info(info.UpdateMessage())
	}()
}

// Compare orders two semver strings: -1 when a < b, 0 when equal, 1 when
// a > b. Pre-release suffixes and a leading "v" are ignored.
func Compare(a, b string) int {
	pa, pb := semverParts(a), semverParts(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func semverParts(v string) [3]int {
	var out [3]int
	fields := strings.SplitN(strings.TrimPrefix(v, "v"), ".", 3)
	for i, f := range fields {
		if dash := strings.IndexByte(f, '-'); dash >= 0 {
			f = f[:dash]
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}

// GetVersion returns the current version
func GetVersion() string {
	return Version
}
