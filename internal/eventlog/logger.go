// Package eventlog provides the telemetry event log of the ducking service.
// Every telemetry event (adjustments, restorations, rejections, corrections,
// classifier analyses and errors) is appended to a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

// Logger writes telemetry events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "crest", "logs", fmt.Sprintf("%d", port), "telemetry.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/crest", fmt.Sprintf("%d", port), "telemetry.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// Open file for appending
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *types.TelemetryEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// Record implements notify.Sink.
//
//nolint:gocritic // hugeParam: events are small and copied once per sink
func (l *Logger) Record(event types.TelemetryEvent) {
	if err := l.Log(&event); err != nil {
		slog.Warn("failed to write telemetry event", "type", event.Type, "error", err)
	}
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterDucking   TypeFilter = "ducking"
	FilterDetection TypeFilter = "detection"
	FilterFeedback  TypeFilter = "feedback"
	FilterErrors    TypeFilter = "error"
)

// ValidFilter reports whether f is a known filter.
func ValidFilter(f TypeFilter) bool {
	switch f {
	case FilterAll, FilterDucking, FilterDetection, FilterFeedback, FilterErrors:
		return true
	}
	return false
}

// MaxReadLimit is the maximum number of events that can be read at once.
// This prevents denial-of-service via excessive memory allocation.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type.
// Events are returned in reverse chronological order (newest first).
// The n parameter is capped at MaxReadLimit to prevent excessive memory allocation.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]types.TelemetryEvent, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []types.TelemetryEvent{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.TelemetryEvent{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	// Read all lines
	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Parse events in reverse order (newest first), applying filter
	events := make([]types.TelemetryEvent, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event types.TelemetryEvent
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !Matches(filter, event.Type) {
			continue
		}

		// Skip events until we reach the offset
		if skipped < offset {
			skipped++
			continue
		}

		if len(events) == n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

// Matches reports whether an event type passes the filter.
func Matches(filter TypeFilter, t types.TelemetryType) bool {
	switch filter {
	case FilterAll:
		return true
	case FilterDucking:
		return IsDuckingEvent(t)
	case FilterDetection:
		return IsDetectionEvent(t)
	case FilterFeedback:
		return t == types.TelemetryUserCorrection
	case FilterErrors:
		return t == types.TelemetryError
	default:
		return false
	}
}

// IsDuckingEvent returns true if the event type concerns a volume change by the controller.
func IsDuckingEvent(t types.TelemetryType) bool {
	return t == types.TelemetryVolumeAdjustment || t == types.TelemetryVolumeRestored
}

// IsDetectionEvent returns true if the event type concerns a detection or its analysis.
func IsDetectionEvent(t types.TelemetryType) bool {
	return t == types.TelemetrySubtitleAnalysis || t == types.TelemetryAudioAnalysis ||
		t == types.TelemetryDetectionRejected
}
