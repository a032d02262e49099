package types

// WSStatusResponse is sent to dashboard clients with every player session's status.
type WSStatusResponse struct {
	Type     string          `json:"type"`     // "status"
	Sessions []SessionStatus `json:"sessions"` // Active player sessions
	Stats    Stats           `json:"stats"`    // Aggregated accuracy stats
	Version  VersionInfo     `json:"version"`  // Version information
}

// WSLevelsResponse is sent to dashboard clients with loudness meter updates.
type WSLevelsResponse struct {
	Type   string            `json:"type"`   // "levels"
	Levels map[string]Levels `json:"levels"` // Levels keyed by session ID
}

// WSEventResponse pushes one telemetry event to dashboard clients.
type WSEventResponse struct {
	Type  string         `json:"type"` // "event"
	Event TelemetryEvent `json:"event"`
}

// WSSetVolume instructs the player to write a new volume.
type WSSetVolume struct {
	Type   string  `json:"type"` // "set_volume"
	Volume float64 `json:"volume"`
}

// WSSession greets a player with its session id and capture settings.
type WSSession struct {
	Type            string `json:"type"` // "session"
	ID              string `json:"id"`
	SampleCadenceMs int64  `json:"sample_cadence_ms"`
}

// WSPlayerSettings updates a player's capture settings after a settings change.
type WSPlayerSettings struct {
	Type            string `json:"type"` // "settings"
	SampleCadenceMs int64  `json:"sample_cadence_ms"`
}

// WSNotification instructs the player to show or hide an overlay notification.
type WSNotification struct {
	Type       string `json:"type"` // "notification" or "notification_hide"
	Text       string `json:"text,omitempty"`
	DurationMs int64  `json:"duration_ms,omitzero"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// WSTestResult is sent to dashboard clients after a notification or archive test.
type WSTestResult struct {
	Type     string `json:"type"`            // "test_result"
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// EventsPage is one page of the persisted telemetry history.
type EventsPage struct {
	Events  []TelemetryEvent `json:"events"`
	HasMore bool             `json:"has_more"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}
