package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// releaseFeedURL is the latest-release endpoint of the project.
const releaseFeedURL = "https://api.github.com/repos/oszuidwest/zwfm-speechdetect/releases/latest"

const (
	releasePollInterval = 24 * time.Hour
	releaseStartDelay   = 30 * time.Second
	releaseTimeout      = 30 * time.Second
	releaseRetryDelay   = time.Minute
	releaseMaxAttempts  = 3
)

// errReleaseRetry marks a failed check that is worth repeating.
var errReleaseRetry = errors.New("release feed temporarily unavailable")

// buildInfo identifies the running binary.
type buildInfo struct {
	version string
	commit  string
	builtAt string
}

// currentBuild returns the linker-provided build information. Values left at
// their defaults are filled from the module's embedded VCS metadata.
func currentBuild() buildInfo {
	b := buildInfo{version: Version, commit: Commit, builtAt: BuildTime}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.version == "dev" && semver.IsValid(info.Main.Version) {
		b.version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.commit == "unknown" {
				b.commit = s.Value
			}
		case "vcs.time":
			if b.builtAt == "unknown" {
				b.builtAt = s.Value
			}
		}
	}
	return b
}

// ReleaseWatcher polls the release feed and reports whether the running build
// is behind the latest published release. It is safe for concurrent use.
type ReleaseWatcher struct {
	feed   string
	client *http.Client
	build  buildInfo

	mu        sync.RWMutex
	latest    string
	etag      string
	checkedAt time.Time
}

// NewReleaseWatcher returns a watcher for feed. A nil client uses a client
// with releaseTimeout.
func NewReleaseWatcher(feed string, client *http.Client) *ReleaseWatcher {
	if client == nil {
		client = &http.Client{Timeout: releaseTimeout}
	}
	return &ReleaseWatcher{
		feed:   feed,
		client: client,
		build:  currentBuild(),
	}
}

// Run checks the feed after a start delay and then once per poll interval
// until ctx is done.
func (w *ReleaseWatcher) Run(ctx context.Context) {
	defer util.LogPanic("release-watcher")

	delay := releaseStartDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		w.refreshWithRetry(ctx)
		delay = releasePollInterval
	}
}

// refreshWithRetry repeats retryable failures with a growing delay.
func (w *ReleaseWatcher) refreshWithRetry(ctx context.Context) {
	backoff := util.NewBackoff(releaseRetryDelay, 4*releaseRetryDelay)
	for {
		err := w.Refresh(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, errReleaseRetry) || backoff.Exhausted(releaseMaxAttempts-1) {
			slog.Debug("release check failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Next()):
		}
	}
}

// githubRelease is the subset of the release payload that is used.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Refresh performs one conditional request against the feed. Errors wrapping
// errReleaseRetry are transient.
func (w *ReleaseWatcher) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.feed, http.NoBody)
	if err != nil {
		return util.WrapError("create release request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "zwfm-speechdetect/"+w.build.version)

	w.mu.RLock()
	etag := w.etag
	w.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errReleaseRetry, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body close error is not actionable

	switch {
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		// Unchanged, or nothing published yet.
		w.markChecked()
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", errReleaseRetry, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("release feed returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("%w: decode release: %w", errReleaseRetry, err)
	}
	if release.Draft || release.Prerelease {
		w.markChecked()
		return nil
	}
	if release.TagName == "" {
		return fmt.Errorf("%w: release without tag", errReleaseRetry)
	}

	w.mu.Lock()
	w.latest = normalizeVersion(release.TagName)
	if tag := resp.Header.Get("ETag"); tag != "" {
		w.etag = tag
	}
	w.mu.Unlock()
	w.markChecked()
	slog.Debug("release feed checked", "latest", release.TagName)
	return nil
}

func (w *ReleaseWatcher) markChecked() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkedAt = time.Now()
}

// Info returns the build identity and the release status.
func (w *ReleaseWatcher) Info() types.VersionInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	current := normalizeVersion(w.build.version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    w.latest,
		Commit:    w.build.commit,
		BuildTime: util.FormatHumanTime(w.build.builtAt),
	}
	if !w.checkedAt.IsZero() {
		info.CheckedAt = w.checkedAt.UTC().Format(time.RFC3339)
	}
	// Development builds have nothing to compare against.
	if w.latest != "" && semver.IsValid(canonicalVersion(current)) {
		info.UpdateAvail = isNewerVersion(w.latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func canonicalVersion(v string) string {
	return "v" + normalizeVersion(v)
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
