package server

import (
	"net/http/httptest"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "crest.local:8080", true},
		{"localhost", nil, "http://localhost:3000", "crest.local:8080", true},
		{"same host", nil, "http://crest.local", "crest.local:8080", true},
		{"private network", nil, "http://192.168.1.20", "crest.local:8080", true},
		{"public page rejected", nil, "https://video.example.com", "crest.local:8080", false},
		{"listed page", []string{"https://video.example.com/"}, "https://video.example.com", "crest.local:8080", true},
		{"extension origin", []string{"chrome-extension://abcdef"}, "chrome-extension://abcdef", "crest.local:8080", true},
		{"wildcard", []string{"*"}, "https://anything.example.org", "crest.local:8080", true},
		{"invalid origin", nil, "://bad", "crest.local:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws/player", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := (OriginPolicy{Allowed: tt.allowed}).Check(r); got != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
