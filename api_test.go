package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/eventlog"
	"github.com/oszuidwest/crest/internal/notify"
	"github.com/oszuidwest/crest/internal/pipeline"
	"github.com/oszuidwest/crest/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return &Server{
		config:       cfg,
		sessions:     pipeline.NewManager(),
		hub:          notify.NewHub(0),
		releases:     newReleaseWatcher("http://127.0.0.1:0", http.DefaultClient, nil),
		eventLogPath: filepath.Join(dir, "telemetry.jsonl"),
	}
}

// authGet performs a GET carrying the configured API key.
func authGet(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-API-Key", s.config.APIKey())
	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t)
	key := s.config.APIKey()

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"dashboard without key", "/ws/dashboard", "", http.StatusUnauthorized},
		{"dashboard with wrong key", "/ws/dashboard", "not-the-key", http.StatusUnauthorized},
		{"stats without key", "/api/stats", "", http.StatusUnauthorized},
		{"events without key", "/api/events", "", http.StatusUnauthorized},
		{"config without key", "/api/config", "", http.StatusUnauthorized},
		{"stats with header key", "/api/stats", key, http.StatusOK},
		{"stats with query key", "/api/stats?api_key=" + key, "", http.StatusOK},
		{"health is public", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			s.SetupRoutes().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
			}
		})
	}
}

func TestPlayerEndpointIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/player", nil))
	// Without upgrade headers the handshake fails, but not on authentication.
	if rec.Code == http.StatusUnauthorized {
		t.Error("player endpoint requires an API key")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got types.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Sessions != 0 {
		t.Errorf("health = %+v", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestAPIEvents(t *testing.T) {
	s := newTestServer(t)
	logger, err := eventlog.NewLogger(s.eventLogPath)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	base := time.Unix(1_700_000_000, 0)
	for i := range 3 {
		ev := types.TelemetryEvent{Type: types.TelemetryVolumeAdjustment, Message: "lowered", Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := logger.Log(&ev); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}
	_ = logger.Close()

	tests := []struct {
		name     string
		query    string
		status   int
		wantLen  int
		wantMore bool
	}{
		{"default page", "", http.StatusOK, 3, false},
		{"limited", "?limit=2", http.StatusOK, 2, true},
		{"offset", "?limit=2&offset=2", http.StatusOK, 1, false},
		{"filter without matches", "?filter=feedback", http.StatusOK, 0, false},
		{"unknown filter", "?filter=bogus", http.StatusBadRequest, 0, false},
		{"bad limit", "?limit=-1", http.StatusBadRequest, 0, false},
		{"limit too large", "?limit=501", http.StatusBadRequest, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := authGet(s, "/api/events"+tt.query)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var page types.EventsPage
			if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(page.Events) != tt.wantLen || page.HasMore != tt.wantMore {
				t.Errorf("page = %d events, has_more %v", len(page.Events), page.HasMore)
			}
		})
	}
}

func TestAPIStats(t *testing.T) {
	s := newTestServer(t)
	rec := authGet(s, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Stats.Accuracy != 1 || len(got.Sessions) != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestAPIConfigHidesSecrets(t *testing.T) {
	s := newTestServer(t)
	rec := authGet(s, "/api/config")
	if strings.Contains(rec.Body.String(), s.config.APIKey()) {
		t.Error("config response exposes the API key")
	}

	var got configResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Classifier != "local" || got.Archive {
		t.Errorf("config = %+v", got)
	}
	if got.Ducking.DefaultLevel != config.DefaultDuckLevel {
		t.Errorf("ducking level = %v, want default", got.Ducking.DefaultLevel)
	}
}
