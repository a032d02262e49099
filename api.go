package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/eventlog"
	"github.com/oszuidwest/crest/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// queryInt parses a non-negative integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// statsResponse is returned by GET /api/stats.
type statsResponse struct {
	Stats    types.Stats           `json:"stats"`
	Sessions []types.SessionStatus `json:"sessions"`
}

// handleAPIStats returns aggregated accuracy stats and per-session status.
// GET /api/stats
func (s *Server) handleAPIStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse{
		Stats:    s.sessions.Stats(),
		Sessions: s.sessions.Statuses(),
	})
}

// handleAPIEvents returns a page of the persisted telemetry history, newest first.
// GET /api/events?limit=50&offset=0&filter=ducking
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50)
	if !ok || limit == 0 || limit > eventlog.MaxReadLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(eventlog.MaxReadLimit))
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	filter := eventlog.TypeFilter(r.URL.Query().Get("filter"))
	if !eventlog.ValidFilter(filter) {
		s.writeError(w, http.StatusBadRequest, "unknown filter: "+string(filter))
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLogPath, limit, offset, filter)
	if err != nil {
		slog.Error("failed to read telemetry log", "path", s.eventLogPath, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read telemetry log")
		return
	}

	s.writeJSON(w, http.StatusOK, types.EventsPage{
		Events:  events,
		HasMore: hasMore,
		Offset:  offset,
		Limit:   limit,
	})
}

// configResponse is the non-secret part of the configuration.
type configResponse struct {
	Detection    config.DetectionConfig    `json:"detection"`
	Coordination config.CoordinationConfig `json:"coordination"`
	Ducking      config.DuckingConfig      `json:"ducking"`
	Classifier   string                    `json:"classifier"`
	ConfirmAudio bool                      `json:"confirm_audio"`
	WebhookURL   string                    `json:"webhook_url"`
	LogPath      string                    `json:"log_path"`
	Archive      bool                      `json:"archive"`
}

// handleAPIConfig returns the configuration without credentials.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config.Snapshot()
	classifier := "local"
	if cfg.HasClassifier() {
		classifier = cfg.ClassifierURL
	}
	s.writeJSON(w, http.StatusOK, configResponse{
		Detection:    cfg.Detection,
		Coordination: cfg.Coordination,
		Ducking:      cfg.Ducking,
		Classifier:   classifier,
		ConfirmAudio: cfg.ConfirmAudio,
		WebhookURL:   cfg.WebhookURL,
		LogPath:      cfg.LogPath,
		Archive:      cfg.HasArchive(),
	})
}

// handleHealth reports liveness.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:   "ok",
		Version:  normalizeVersion(Version),
		Sessions: s.sessions.Len(),
	})
}
