// Package update checks GitHub for newer agentgate releases. It
// only reports availability; installation is a manual step.
package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	defaultAPIURL = "https://api.github.com/repos/agentgate/agentgate/releases/latest"
	cacheFileName = "update-check.json"
	cacheTTL      = 24 * time.Hour
)

// Result is the outcome of a version check.
type Result struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
	FromCache       bool   `json:"from_cache"`
}

// Checker queries the release feed with a local result cache.
type Checker struct {
	APIURL   string
	CacheDir string
	Client   *http.Client
}

// NewChecker creates a checker caching under cacheDir.
func NewChecker(cacheDir string) *Checker {
	return &Checker{
		APIURL:   defaultAPIURL,
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type cachedCheck struct {
	CheckedAt time.Time `json:"checked_at"`
	Version   string    `json:"version"`
}

// Check compares currentVersion against the latest release.
// Results are cached for 24 hours unless force is set.
func (c *Checker) Check(currentVersion string, force bool) (*Result, error) {
	if !force {
		if cached, ok := c.loadCache(); ok {
			return &Result{
				CurrentVersion:  currentVersion,
				LatestVersion:   cached.Version,
				UpdateAvailable: isNewer(cached.Version, currentVersion),
				FromCache:       true,
			}, nil
		}
	}

	latest, err := c.fetchLatestTag()
	if err != nil {
		return nil, fmt.Errorf("checking for updates: %w", err)
	}
	c.saveCache(latest)

	return &Result{
		CurrentVersion:  currentVersion,
		LatestVersion:   latest,
		UpdateAvailable: isNewer(latest, currentVersion),
	}, nil
}

func (c *Checker) fetchLatestTag() (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.APIURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "agentgate-update")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release feed returned %s", resp.Status)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release feed had no tag")
	}
	return release.TagName, nil
}

func (c *Checker) loadCache() (cachedCheck, bool) {
	data, err := os.ReadFile(filepath.Join(c.CacheDir, cacheFileName))
	if err != nil {
		return cachedCheck{}, false
	}
	var cached cachedCheck
	if err := json.Unmarshal(data, &cached); err != nil {
		return cachedCheck{}, false
	}
	if time.Since(cached.CheckedAt) >= cacheTTL {
		return cachedCheck{}, false
	}
	return cached, true
}

func (c *Checker) saveCache(version string) {
	data, err := json.Marshal(cachedCheck{
		CheckedAt: time.Now(),
		Version:   version,
	})
	if err != nil {
		return
	}
	_ = os.MkdirAll(c.CacheDir, 0o755)
	_ = os.WriteFile(
		filepath.Join(c.CacheDir, cacheFileName), data, 0o600)
}

// gitDescribePattern matches the suffix `git describe` appends to
// dev builds, e.g. v1.2.3-4-gabcdef0-dirty.
var gitDescribePattern = regexp.MustCompile(`-\d+-g[0-9a-f]+(-dirty)?$`)

// isNewer reports whether latest is a strictly newer release than
// current. Unparseable versions (dev builds without a base semver)
// never trigger an update.
func isNewer(latest, current string) bool {
	lv := normalize(latest)
	cv := normalize(current)
	if !semver.IsValid(lv) || !semver.IsValid(cv) {
		return false
	}
	return semver.Compare(lv, cv) > 0
}

func normalize(v string) string {
	v = strings.TrimPrefix(v, "v")
	v = gitDescribePattern.ReplaceAllString(v, "")
	return "v" + v
}
