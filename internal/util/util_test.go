package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{750 * time.Millisecond, "750ms"},
		{3 * time.Second, "3s"},
		{154 * time.Second, "2m 34s"},
		{83 * time.Minute, "1h 23m"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.d); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	b := Backoff{Initial: 500 * time.Millisecond, Max: 4 * time.Second}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestRetry(t *testing.T) {
	errFlaky := errors.New("flaky")
	fast := Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}

	tests := []struct {
		name      string
		failures  int
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, 3, 1, false},
		{"succeeds on last attempt", 2, 3, 3, false},
		{"gives up", 5, 3, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), tt.attempts, fast, func() error {
				calls++
				if calls <= tt.failures {
					return errFlaky
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Retry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, 5, Backoff{Initial: time.Hour, Max: time.Hour}, func() error {
		calls++
		return errors.New("down")
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"single line", "upstream timeout", "upstream timeout"},
		{"trailing blank lines", "first\nmodel overloaded\n\n", "model overloaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LastLine(tt.in); got != tt.want {
				t.Errorf("LastLine(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/var/log/crest/events.jsonl", false},
		{"", true},
		{"../etc/passwd", true},
		{"/var/log/../../etc", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if err := ValidatePath("path", tt.path); (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestCheckFileAppendable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	if err := CheckFileAppendable(path); err != nil {
		t.Fatalf("CheckFileAppendable() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestIsConfigured(t *testing.T) {
	if !IsConfigured("a", "b") || IsConfigured("a", "") {
		t.Error("IsConfigured mismatch")
	}
}
