package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/crest/internal/util"
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// OriginPolicy decides which browser origins may open a WebSocket.
// Media clients run inside arbitrary pages, so their origins are listed
// explicitly; "*" allows any origin.
type OriginPolicy struct {
	Allowed []string
}

// Check reports whether the WebSocket connection origin is allowed.
func (p OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	if slices.Contains(p.Allowed, "*") || slices.ContainsFunc(p.Allowed, func(a string) bool {
		return strings.EqualFold(strings.TrimSuffix(a, "/"), origin)
	}) {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to WebSocket under the given origin policy.
func UpgradeConnection(w http.ResponseWriter, r *http.Request, policy OriginPolicy) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{CheckOrigin: policy.Check}
	return upgrader.Upgrade(w, r, nil)
}

// RunWriter writes messages from send to the connection until done is closed
// or a write fails. It is the only writer of conn and closes it on return.
func RunWriter(conn WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer util.SafeCloseFunc(conn, "WebSocket connection")()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}
