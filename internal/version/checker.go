// Package version implements the startup release check. The checker
// polls the project release feed and logs when a newer gateway build
// is available; deployments disable it with versioncheck.disabled.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

const (
	defaultCheckInterval  = 12 * time.Hour
	defaultRequestTimeout = 15 * time.Second
	defaultReleaseURL     = "https://api.github.com/repos/meshgate/meshgate/releases?per_page=5"
)

// Release is one published gateway release.
type Release struct {
	Version     string
	Body        string
	HTMLURL     string
	PublishedAt time.Time
}

// Snapshot is the result of one successful check.
type Snapshot struct {
	CurrentVersion  string
	Latest          Release
	UpdateAvailable bool
	CheckedAt       time.Time
}

// CheckerConfig customizes checker behavior.
type CheckerConfig struct {
	CurrentVersion string
	Endpoint       string
	HTTPClient     *http.Client
	Interval       time.Duration
	Logger         *slog.Logger
}

// Checker periodically fetches releases and remembers the latest result.
type Checker struct {
	currentVersion string
	endpoint       string
	client         *http.Client
	interval       time.Duration
	logger         *slog.Logger

	mu          sync.RWMutex
	latest      Snapshot
	latestKnown bool

	startOnce sync.Once
}

type releaseEntry struct {
	TagName     string    `json:"tag_name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
}

func NewChecker(cfg CheckerConfig) *Checker {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultReleaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Checker{
		currentVersion: strings.TrimSpace(cfg.CurrentVersion),
		endpoint:       endpoint,
		client:         client,
		interval:       interval,
		logger:         logger.With("component", "version"),
	}
}

func (c *Checker) Start(ctx context.Context) {
	if c == nil {
		return
	}

	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

func (c *Checker) CurrentSnapshot() (Snapshot, bool) {
	if c == nil {
		return Snapshot{}, false
	}

	c.mu.RLock()
	snapshot := c.latest
	known := c.latestKnown
	c.mu.RUnlock()

	return snapshot, known
}

func (c *Checker) run(ctx context.Context) {
	c.logger.Info("release check started", "endpoint", c.endpoint, "current_version", c.currentVersion)

	if err := c.check(ctx); err != nil {
		c.logger.Warn("check for updates", "error", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.check(ctx); err != nil {
				c.logger.Warn("check for updates", "error", err)
			}
		}
	}
}

func (c *Checker) check(ctx context.Context) error {
	releases, err := c.fetchReleases(ctx)
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		return fmt.Errorf("release API response is empty")
	}

	latest := releases[0]
	snapshot := Snapshot{
		CurrentVersion:  c.currentVersion,
		Latest:          latest,
		UpdateAvailable: isReleaseNewer(c.currentVersion, latest.Version),
		CheckedAt:       time.Now().UTC(),
	}

	c.mu.Lock()
	c.latest = snapshot
	c.latestKnown = true
	c.mu.Unlock()

	if snapshot.UpdateAvailable {
		c.logger.Info("newer release available",
			"current_version", snapshot.CurrentVersion,
			"latest_version", latest.Version,
			"url", latest.HTMLURL)
	} else {
		c.logger.Debug("release check completed",
			"current_version", snapshot.CurrentVersion,
			"latest_version", latest.Version)
	}

	return nil
}

func (c *Checker) fetchReleases(ctx context.Context) ([]Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create releases request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request releases: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		trimmed := strings.TrimSpace(string(body))
		if trimmed == "" {
			return nil, fmt.Errorf("request releases: unexpected status %d", resp.StatusCode)
		}

		return nil, fmt.Errorf("request releases: unexpected status %d: %s", resp.StatusCode, trimmed)
	}

	var payload []releaseEntry
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode releases response: %w", err)
	}

	releases := make([]Release, 0, len(payload))
	for _, item := range payload {
		tag := strings.TrimSpace(item.TagName)
		if tag == "" {
			continue
		}
		releases = append(releases, Release{
			Version:     tag,
			Body:        strings.TrimSpace(item.Body),
			HTMLURL:     strings.TrimSpace(item.HTMLURL),
			PublishedAt: item.PublishedAt,
		})
	}

	return releases, nil
}

func isReleaseNewer(currentVersion string, latestVersion string) bool {
	current := normalizeSemver(currentVersion)
	latest := normalizeSemver(latestVersion)

	if !semver.IsValid(latest) {
		return false
	}
	if !semver.IsValid(current) {
		return true
	}

	return semver.Compare(current, latest) < 0
}

func normalizeSemver(version string) string {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "v") {
		return "v" + trimmed
	}

	return trimmed
}
