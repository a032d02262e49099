// Package types provides shared type definitions used across the ducking pipeline.
package types

import (
	"time"
)

// Source identifies which signal path produced a detection.
type Source string

const (
	// SourceAudio is the live audio feature stream.
	SourceAudio Source = "audio"
	// SourceSubtitle is the caption/text stream.
	SourceSubtitle Source = "subtitle"
	// SourceManual is an operator-initiated test from the dashboard.
	SourceManual Source = "manual_test"
)

// LoudnessSample is one scalar loudness measurement in [0,1].
// It is produced at a fixed cadence by the feature extractor and never mutated.
type LoudnessSample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// SpikeMetrics is the logging payload attached to audio detections.
type SpikeMetrics struct {
	Volume   float64 `json:"volume"`
	Baseline float64 `json:"baseline"`
	Spike    float64 `json:"spike"`
}

// DetectionEvent is a candidate loud event from one signal path.
// It is consumed exactly once by the coordinator.
type DetectionEvent struct {
	Source     Source    `json:"source"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Metrics    any       `json:"metrics,omitempty"`
}

// DuckState is the tagged state of the ducking controller.
type DuckState string

const (
	// DuckIdle means playback volume is untouched.
	DuckIdle DuckState = "idle"
	// DuckDucking means at least one request holds the volume down.
	DuckDucking DuckState = "ducking"
	// DuckRestoring means the last request expired and volume is easing back.
	DuckRestoring DuckState = "restoring"
)

// TelemetryType is the type of a telemetry event sent to notification sinks.
type TelemetryType string

// Telemetry event types.
const (
	TelemetryVolumeAdjustment  TelemetryType = "volume_adjustment"
	TelemetryVolumeRestored    TelemetryType = "volume_restored"
	TelemetryDetectionRejected TelemetryType = "detection_rejected"
	TelemetryUserCorrection    TelemetryType = "user_correction"
	TelemetrySubtitleAnalysis  TelemetryType = "subtitle_analysis"
	TelemetryAudioAnalysis     TelemetryType = "audio_analysis"
	TelemetryError             TelemetryType = "error"
	TelemetrySystem            TelemetryType = "system"
)

// TelemetryEvent is a structured event delivered best-effort to the dashboard and other sinks.
type TelemetryEvent struct {
	Type       TelemetryType `json:"type"`
	SessionID  string        `json:"session_id,omitempty"`
	Trigger    Source        `json:"trigger,omitempty"`
	Confidence float64       `json:"confidence,omitzero"`
	Message    string        `json:"message"`
	Timestamp  time.Time     `json:"timestamp"`
	Level      float64       `json:"level,omitzero"`
	DurationMs int64         `json:"duration_ms,omitzero"`
	Details    any           `json:"details,omitempty"`
}

// Stats is the accuracy and activity summary shown on the dashboard.
type Stats struct {
	TotalAdjustments   int       `json:"total_adjustments"`
	UserCorrections    int       `json:"user_corrections"`
	SubtitleDetections int       `json:"subtitle_detections"`
	AudioDetections    int       `json:"audio_detections"`
	Accuracy           float64   `json:"accuracy"`
	LastActionTime     time.Time `json:"last_action_time,omitzero"`
	SessionStart       time.Time `json:"session_start"`
}

// Levels is the live loudness view for dashboard meters.
type Levels struct {
	Sample   float64 `json:"sample"`
	Baseline float64 `json:"baseline"`
	Spike    float64 `json:"spike"`
	Peak     float64 `json:"peak"`
}

// SessionStatus is a point-in-time view of one player session.
type SessionStatus struct {
	ID             string    `json:"id"`
	State          DuckState `json:"state"`
	Outstanding    int       `json:"outstanding"`
	OriginalVolume float64   `json:"original_volume,omitzero"`
	AudioAvailable bool      `json:"audio_available"`
	MediaPresent   bool      `json:"media_present"`
	Levels         Levels    `json:"levels"`
	Stats          Stats     `json:"stats"`

	// Claims maps each source holding a live coordination entry to its confidence.
	Claims map[Source]float64 `json:"claims,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
