package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/crest/internal/ducking"
	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
	"golang.org/x/mod/semver"
)

// Release feed polling.
const (
	releaseRepo       = "oszuidwest/crest"
	releaseFeed       = "https://api.github.com"
	releaseInterval   = 24 * time.Hour
	releaseStartDelay = 30 * time.Second
	releaseTimeout    = 30 * time.Second
	releaseAttempts   = 3
	releaseMaxBody    = 1 << 20
)

var (
	errReleaseRateLimited = errors.New("release feed rate limited")
	errReleaseUnavailable = errors.New("release feed unavailable")
)

// ReleaseWatcher polls the release feed. It keeps the latest version for the
// dashboard and publishes one system telemetry event per newer release.
// It is safe for concurrent use.
type ReleaseWatcher struct {
	feedURL string
	client  *http.Client
	pub     ducking.Publisher
	retry   util.Backoff

	mu        sync.RWMutex
	latest    string
	etag      string
	announced string
}

// NewReleaseWatcher returns a watcher for the public release feed.
// A nil pub disables announcements.
func NewReleaseWatcher(pub ducking.Publisher) *ReleaseWatcher {
	return newReleaseWatcher(releaseFeed, http.DefaultClient, pub)
}

func newReleaseWatcher(feedURL string, client *http.Client, pub ducking.Publisher) *ReleaseWatcher {
	return &ReleaseWatcher{
		feedURL: strings.TrimSuffix(feedURL, "/"),
		client:  client,
		pub:     pub,
		retry:   util.Backoff{Initial: time.Minute, Max: 4 * time.Minute},
	}
}

// Run polls the feed once a day until ctx ends.
func (w *ReleaseWatcher) Run(ctx context.Context) {
	timer := time.NewTimer(releaseStartDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := util.Retry(ctx, releaseAttempts, w.retry, func() error { return w.poll(ctx) }); err != nil {
			slog.Debug("release check failed", "error", err)
		}
		timer.Reset(releaseInterval)
	}
}

// poll fetches the feed once and records a published release.
func (w *ReleaseWatcher) poll(ctx context.Context) error {
	tag, err := w.fetch(ctx)
	if err != nil || tag == "" {
		return err
	}
	w.observe(tag)
	return nil
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// fetch returns the latest published tag. An empty tag with a nil error
// means there is nothing new: not modified, no releases, or a pre-release.
func (w *ReleaseWatcher) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()

	url := w.feedURL + "/repos/" + releaseRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", util.WrapError("create release request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "crest/"+Version)

	w.mu.RLock()
	if w.etag != "" {
		req.Header.Set("If-None-Match", w.etag)
	}
	w.mu.RUnlock()

	resp, err := w.client.Do(req)
	if err != nil {
		return "", util.WrapError("fetch latest release", err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return "", errReleaseRateLimited
	case code >= 500:
		return "", fmt.Errorf("%w: status %d", errReleaseUnavailable, code)
	default:
		return "", nil
	}

	var release githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, releaseMaxBody)).Decode(&release); err != nil {
		return "", util.WrapError("decode release", err)
	}
	if release.Draft || release.Prerelease {
		return "", nil
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		w.mu.Lock()
		w.etag = etag
		w.mu.Unlock()
	}
	return release.TagName, nil
}

// observe stores tag as the latest release and announces it once when newer.
func (w *ReleaseWatcher) observe(tag string) {
	latest := normalizeVersion(tag)

	w.mu.Lock()
	w.latest = latest
	announce := latest != w.announced && updateAvailable(latest, Version)
	if announce {
		w.announced = latest
	}
	w.mu.Unlock()

	if !announce {
		return
	}
	slog.Info("update available", "current", Version, "latest", latest)
	if w.pub != nil {
		w.pub.Publish(types.TelemetryEvent{
			Type:      types.TelemetrySystem,
			Message:   fmt.Sprintf("Update available: %s (running %s)", latest, normalizeVersion(Version)),
			Timestamp: time.Now(),
		})
	}
}

// Info returns the version info shown on the dashboard.
func (w *ReleaseWatcher) Info() types.VersionInfo {
	w.mu.RLock()
	latest := w.latest
	w.mu.RUnlock()

	return types.VersionInfo{
		Current:     normalizeVersion(Version),
		Latest:      latest,
		UpdateAvail: updateAvailable(latest, Version),
		Commit:      Commit,
		BuildTime:   util.FormatHumanTime(BuildTime),
	}
}

// normalizeVersion strips whitespace and a leading "v".
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// updateAvailable reports whether latest is a newer semver than current.
// Development builds never report updates.
func updateAvailable(latest, current string) bool {
	l, c := "v"+normalizeVersion(latest), "v"+normalizeVersion(current)
	if !semver.IsValid(l) || !semver.IsValid(c) {
		return false
	}
	return semver.Compare(l, c) > 0
}
