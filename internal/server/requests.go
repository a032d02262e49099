package server

// Request types for WebSocket messages with validation tags.
// These types define the expected input for each message and use
// go-playground/validator struct tags for automatic validation.

// --- Media client messages ---

// SnapshotMessage is one frequency-magnitude snapshot from the media client.
type SnapshotMessage struct {
	Bins []int `json:"bins" validate:"required,min=1,max=8192,dive,gte=0,lte=255"`
}

// PCMMessage is a block of base64 encoded S16LE samples.
type PCMMessage struct {
	Data []byte `json:"data" validate:"required,min=2,max=65536"`
}

// CaptionMessage carries caption text shown by the media client.
type CaptionMessage struct {
	Text string `json:"text" validate:"max=2000"`
}

// VolumeMessage reports a volume change observed on the media element.
type VolumeMessage struct {
	Volume float64 `json:"volume" validate:"gte=0,lte=1"`
}

// MediaMessage reports whether the page has an active media element.
type MediaMessage struct {
	Present bool    `json:"present"`
	Volume  float64 `json:"volume" validate:"gte=0,lte=1"`
	Audio   bool    `json:"audio"`
}

// NavigateMessage reports a page navigation.
type NavigateMessage struct {
	URL string `json:"url" validate:"max=4096"`
}

// UnavailableMessage reports that audio snapshots cannot be captured.
type UnavailableMessage struct {
	Reason string `json:"reason" validate:"max=500"`
}

// --- Detection settings ---

// DetectionUpdateRequest is the request body for detection/update.
// Omitted fields keep their current value.
type DetectionUpdateRequest struct {
	FeatureMode             *string  `json:"feature_mode" validate:"omitempty,oneof=rms mean"`
	SpikeThreshold          *float64 `json:"spike_threshold" validate:"omitempty,gt=0,lte=1"`
	ComboLevel              *float64 `json:"combo_level" validate:"omitempty,gt=0,lte=1"`
	ComboSpike              *float64 `json:"combo_spike" validate:"omitempty,gt=0,lte=1"`
	AbsoluteLevel           *float64 `json:"absolute_level" validate:"omitempty,gt=0,lte=1"`
	BaselinePolicy          *string  `json:"baseline_policy" validate:"omitempty,oneof=median ema"`
	BaselineHistoryCapacity *int     `json:"baseline_history_capacity" validate:"omitempty,gte=1,lte=1000"`
	MinBaselineFill         *int     `json:"min_baseline_fill" validate:"omitempty,gte=1,lte=1000"`
	DefaultBaseline         *float64 `json:"default_baseline" validate:"omitempty,gte=0,lte=1"`
	EMADecay                *float64 `json:"ema_decay" validate:"omitempty,gt=0,lt=1"`
	RefractoryMs            *int64   `json:"refractory_ms" validate:"omitempty,gte=0,lte=60000"`
}

// --- Coordination settings ---

// CoordinationUpdateRequest is the request body for coordination/update.
type CoordinationUpdateRequest struct {
	WindowMs         *int64   `json:"window_ms" validate:"omitempty,gte=0,lte=60000"`
	ConfidenceMargin *float64 `json:"confidence_margin" validate:"omitempty,gte=0,lte=1"`
}

// --- Ducking settings ---

// DuckingUpdateRequest is the request body for ducking/update.
type DuckingUpdateRequest struct {
	DefaultLevel      *float64 `json:"default_level" validate:"omitempty,gte=0,lte=1"`
	DefaultDurationMs *int64   `json:"default_duration_ms" validate:"omitempty,gte=100,lte=600000"`
	TransitionInMs    *int64   `json:"transition_in_ms" validate:"omitempty,gte=0,lte=10000"`
	TransitionOutMs   *int64   `json:"transition_out_ms" validate:"omitempty,gte=0,lte=10000"`
	HighConfidence    *float64 `json:"high_confidence" validate:"omitempty,gte=0,lte=1"`
	PartialMultiplier *float64 `json:"partial_multiplier" validate:"omitempty,gte=0,lte=1"`
}

// --- Manual test ---

// TestDuckRequest is the request body for test/duck.
type TestDuckRequest struct {
	SessionID  string  `json:"session_id" validate:"required,max=64"`
	Level      float64 `json:"level" validate:"omitempty,gte=0,lte=1"`
	DurationMs int64   `json:"duration_ms" validate:"omitempty,gte=100,lte=600000"`
}

// --- Telemetry history ---

// EventsListRequest is the request body for events/list.
type EventsListRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=ducking detection feedback error"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// NotificationTestRequest is the request body for notifications/test.
type NotificationTestRequest struct {
	Target string `json:"target" validate:"required,oneof=webhook log"`
}
