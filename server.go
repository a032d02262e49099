package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/notify"
	"github.com/oszuidwest/crest/internal/pipeline"
	"github.com/oszuidwest/crest/internal/server"
	"github.com/oszuidwest/crest/internal/types"
)

// Dashboard update cadence.
const (
	levelsInterval = 100 * time.Millisecond  // 10 fps for loudness meters
	statusInterval = 3000 * time.Millisecond // Status updates every 3s
)

// Server is the HTTP server for media clients, the dashboard and the API.
type Server struct {
	config       *config.Config
	sessions     *pipeline.Manager
	hub          *notify.Hub
	commands     *server.CommandHandler
	players      *server.PlayerHandler
	releases     *ReleaseWatcher
	eventLogPath string
}

// NewServer returns a Server for the given session registry and collaborators.
//
//nolint:gocritic // hugeParam: called once at startup
func NewServer(cfg *config.Config, sessions *pipeline.Manager, hub *notify.Hub, releases *ReleaseWatcher, players server.PlayerConfig, eventLogPath string) *Server {
	players.Sessions = sessions
	return &Server{
		config:       cfg,
		sessions:     sessions,
		hub:          hub,
		commands:     server.NewCommandHandler(cfg, sessions, eventLogPath),
		players:      server.NewPlayerHandler(players),
		releases:     releases,
		eventLogPath: eventLogPath,
	}
}

// originPolicy returns the WebSocket origin policy from the current configuration.
func (s *Server) originPolicy() server.OriginPolicy {
	return server.OriginPolicy{Allowed: s.config.Snapshot().AllowedOrigins}
}

// handlePlayerWebSocket serves one media client.
func (s *Server) handlePlayerWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r, s.originPolicy())
	if err != nil {
		slog.Error("WebSocket upgrade failed", "endpoint", "player", "error", err)
		return
	}
	s.players.Serve(conn)
}

// handleDashboardWebSocket handles bidirectional WebSocket communication with the dashboard.
func (s *Server) handleDashboardWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r, s.originPolicy())
	if err != nil {
		slog.Error("WebSocket upgrade failed", "endpoint", "dashboard", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 64)
	done := make(chan struct{})
	readerDone := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go server.RunWriter(conn, send, done)
	go s.runDashboardReader(conn, send, readerDone, statusUpdate)

	s.runDashboardEventLoop(send, readerDone, statusUpdate)
	close(done)
}

// runDashboardReader reads commands from the connection and dispatches them.
func (s *Server) runDashboardReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runDashboardEventLoop pushes status, levels and telemetry events until the reader stops.
func (s *Server) runDashboardEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}
	recent := s.hub.Recent()
	slices.Reverse(recent)
	for _, ev := range recent {
		if !trySend(types.WSEventResponse{Type: "event", Event: ev}) {
			return
		}
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Levels: s.sessions.Levels()}
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg = types.WSEventResponse{Type: "event", Event: ev}
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:     "status",
		Sessions: s.sessions.Statuses(),
		Stats:    s.sessions.Stats(),
		Version:  s.releases.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /ws/player", s.handlePlayerWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Protected routes (API key auth)
	mux.HandleFunc("GET /ws/dashboard", s.apiKeyAuth(s.handleDashboardWebSocket))
	mux.HandleFunc("GET /api/stats", s.apiKeyAuth(s.handleAPIStats))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleAPIEvents))
	mux.HandleFunc("GET /api/config", s.apiKeyAuth(s.handleAPIConfig))

	return securityHeaders(mux)
}

// apiKeyAuth returns middleware for API key authentication.
// Browsers cannot set headers on WebSocket requests, so the key is also
// accepted as the api_key query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
