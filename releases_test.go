package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/oszuidwest/crest/internal/types"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []types.TelemetryEvent
}

func (r *eventRecorder) Publish(ev types.TelemetryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func setVersion(t *testing.T, v string) {
	t.Helper()
	prev := Version
	Version = v
	t.Cleanup(func() { Version = prev })
}

func releaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/"+releaseRepo+"/releases/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpdateAvailable(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "v1.9.0", true},
		{"1.0.0", "1.0.1", false},
		{"1.0.0", "dev", false},
		{"", "1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.latest+"_vs_"+tt.current, func(t *testing.T) {
			if got := updateAvailable(tt.latest, tt.current); got != tt.want {
				t.Errorf("updateAvailable(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
			}
		})
	}
}

func TestReleasePoll(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    error
		wantLatest string
	}{
		{"release", http.StatusOK, `{"tag_name":"v2.1.0"}`, nil, "2.1.0"},
		{"prerelease ignored", http.StatusOK, `{"tag_name":"v3.0.0-rc1","prerelease":true}`, nil, ""},
		{"no releases", http.StatusNotFound, ``, nil, ""},
		{"rate limited", http.StatusTooManyRequests, ``, errReleaseRateLimited, ""},
		{"server error", http.StatusBadGateway, ``, errReleaseUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := releaseServer(t, tt.status, tt.body)
			w := newReleaseWatcher(srv.URL, srv.Client(), nil)
			if err := w.poll(context.Background()); !errors.Is(err, tt.wantErr) {
				t.Errorf("poll() error = %v, want %v", err, tt.wantErr)
			}
			if got := w.Info().Latest; got != tt.wantLatest {
				t.Errorf("Latest = %q, want %q", got, tt.wantLatest)
			}
		})
	}
}

func TestReleasePollRejectsGarbage(t *testing.T) {
	srv := releaseServer(t, http.StatusOK, `{`)
	w := newReleaseWatcher(srv.URL, srv.Client(), nil)
	if err := w.poll(context.Background()); err == nil {
		t.Error("poll() accepted a truncated body")
	}
}

func TestReleaseAnnouncedOnce(t *testing.T) {
	setVersion(t, "1.0.0")
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v1.1.0"}`)
	pub := &eventRecorder{}
	w := newReleaseWatcher(srv.URL, srv.Client(), pub)

	for range 2 {
		if err := w.poll(context.Background()); err != nil {
			t.Fatalf("poll() error = %v", err)
		}
	}
	if pub.len() != 1 {
		t.Fatalf("published %d events, want 1", pub.len())
	}
	if ev := pub.events[0]; ev.Type != types.TelemetrySystem || ev.Message != "Update available: 1.1.0 (running 1.0.0)" {
		t.Errorf("event = %+v", ev)
	}
	if info := w.Info(); !info.UpdateAvail || info.Current != "1.0.0" || info.Latest != "1.1.0" {
		t.Errorf("Info() = %+v", info)
	}
}

func TestReleaseNotAnnouncedForDevBuild(t *testing.T) {
	setVersion(t, "dev")
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v1.1.0"}`)
	pub := &eventRecorder{}
	w := newReleaseWatcher(srv.URL, srv.Client(), pub)
	if err := w.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if pub.len() != 0 || w.Info().UpdateAvail {
		t.Error("development build reported an update")
	}
}

func TestReleaseSendsETag(t *testing.T) {
	seen := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := r.Header.Get("If-None-Match")
		seen <- tag
		if tag != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"tag_name":"1.0.0"}`))
	}))
	defer srv.Close()

	w := newReleaseWatcher(srv.URL, srv.Client(), nil)
	if err := w.poll(context.Background()); err != nil {
		t.Fatalf("first poll() error = %v", err)
	}
	if got := <-seen; got != "" {
		t.Errorf("first request sent If-None-Match %q", got)
	}
	if err := w.poll(context.Background()); err != nil {
		t.Fatalf("conditional poll() error = %v", err)
	}
	if got := <-seen; got != `"v1"` {
		t.Errorf("If-None-Match = %q, want %q", got, `"v1"`)
	}
	if w.Info().Latest != "1.0.0" {
		t.Errorf("Latest = %q after 304", w.Info().Latest)
	}
}
