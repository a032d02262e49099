// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort  = 8080
	DefaultLogLevel = "info"

	DefaultFeatureMode             = "rms"
	DefaultSampleCadenceMs         = 100
	DefaultSpikeThreshold          = 0.3
	DefaultComboLevel              = 0.6
	DefaultComboSpike              = 0.15
	DefaultAbsoluteLevel           = 0.8
	DefaultBaselinePolicy          = "median"
	DefaultBaselineHistoryCapacity = 50
	DefaultMinBaselineFill         = 10
	DefaultBaseline                = 0.1
	DefaultEMADecay                = 0.95
	DefaultRefractoryMs            = 1500

	DefaultCoordinationWindowMs = 2000
	DefaultConfidenceMargin     = 0.1

	DefaultDuckLevel         = 0.25
	DefaultDuckDurationMs    = 3000
	DefaultTransitionInMs    = 200
	DefaultTransitionOutMs   = 500
	DefaultFrameIntervalMs   = 16
	DefaultHighConfidence    = 0.8
	DefaultPartialMultiplier = 0.5

	DefaultClassifierTimeoutMs = 5000
	DefaultArchivePrefix       = "telemetry"
)

// validate checks configuration struct tags.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port           int      `json:"port" validate:"gte=1,lte=65535"`                            // HTTP server port
	LogLevel       string   `json:"log_level" validate:"omitempty,oneof=debug info warn error"` // Minimum slog level
	EventLogPath   string   `json:"event_log_path" validate:"omitempty,max=4096"`               // Telemetry JSONL file (empty = platform default)
	AllowedOrigins []string `json:"allowed_origins" validate:"omitempty,dive,max=2048"`         // Extra browser origins allowed on websockets
	APIKey         string   `json:"api_key" validate:"omitempty,min=16,max=128"`                // Key for the dashboard and API; generated when empty
}

// DetectionConfig holds the audio feature and spike detection tuning.
type DetectionConfig struct {
	FeatureMode             string  `json:"feature_mode" validate:"oneof=rms mean"`
	SampleCadenceMs         int64   `json:"sample_cadence_ms" validate:"gte=10,lte=1000"`
	SpikeThreshold          float64 `json:"spike_threshold" validate:"gt=0,lte=1"`
	ComboLevel              float64 `json:"combo_level" validate:"gt=0,lte=1"`
	ComboSpike              float64 `json:"combo_spike" validate:"gt=0,lte=1"`
	AbsoluteLevel           float64 `json:"absolute_level" validate:"gt=0,lte=1"`
	BaselinePolicy          string  `json:"baseline_policy" validate:"oneof=median ema"`
	BaselineHistoryCapacity int     `json:"baseline_history_capacity" validate:"gte=1,lte=1000"`
	MinBaselineFill         int     `json:"min_baseline_fill" validate:"gte=1,ltefield=BaselineHistoryCapacity"`
	DefaultBaseline         float64 `json:"default_baseline" validate:"gte=0,lte=1"`
	EMADecay                float64 `json:"ema_decay" validate:"gt=0,lt=1"`
	RefractoryMs            int64   `json:"refractory_ms" validate:"gte=0,lte=60000"`
}

// CoordinationConfig holds cross-source arbitration settings.
type CoordinationConfig struct {
	WindowMs         int64   `json:"window_ms" validate:"gte=0,lte=60000"`
	ConfidenceMargin float64 `json:"confidence_margin" validate:"gte=0,lte=1"`
}

// DuckingConfig holds volume reduction and transition settings.
type DuckingConfig struct {
	DefaultLevel      float64 `json:"default_level" validate:"gte=0,lte=1"`
	DefaultDurationMs int64   `json:"default_duration_ms" validate:"gte=100,lte=600000"`
	TransitionInMs    int64   `json:"transition_in_ms" validate:"gte=0,lte=10000"`
	TransitionOutMs   int64   `json:"transition_out_ms" validate:"gte=0,lte=10000"`
	FrameIntervalMs   int64   `json:"frame_interval_ms" validate:"gte=1,lte=1000"`
	HighConfidence    float64 `json:"high_confidence" validate:"gte=0,lte=1"`
	PartialMultiplier float64 `json:"partial_multiplier" validate:"gte=0,lte=1"`
}

// ClassifierConfig holds the external classifier service settings.
// An empty URL selects the built-in keyword classifier.
type ClassifierConfig struct {
	URL          string   `json:"url" validate:"omitempty,url,max=2048"`
	TimeoutMs    int64    `json:"timeout_ms" validate:"gte=100,lte=60000"`
	ConfirmAudio bool     `json:"confirm_audio"` // Ask the classifier before ducking on audio spikes
	TokenURL     string   `json:"token_url" validate:"omitempty,url,max=2048"`
	ClientID     string   `json:"client_id" validate:"omitempty,max=256"`
	ClientSecret string   `json:"client_secret" validate:"omitempty,max=500"`
	Scopes       []string `json:"scopes" validate:"omitempty,dive,max=256"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"` // Webhook URL for telemetry events
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" validate:"omitempty,max=4096"` // Log file path for telemetry events
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log"`     // Log file settings
}

// ArchiveConfig holds S3 settings for session telemetry archives.
type ArchiveConfig struct {
	Endpoint        string `json:"s3_endpoint" validate:"omitempty,url,max=2048"`
	Bucket          string `json:"s3_bucket" validate:"omitempty,max=63"`
	AccessKeyID     string `json:"s3_access_key_id" validate:"omitempty,max=128"`
	SecretAccessKey string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
	Prefix          string `json:"prefix" validate:"omitempty,max=256"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Detection     DetectionConfig     `json:"detection"`
	Coordination  CoordinationConfig  `json:"coordination"`
	Ducking       DuckingConfig       `json:"ducking"`
	Classifier    ClassifierConfig    `json:"classifier"`
	Notifications NotificationsConfig `json:"notifications"`
	Archive       ArchiveConfig       `json:"archive"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if err := c.ensureAPIKey(); err != nil {
			return err
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}
	if c.System.APIKey != "" {
		return nil
	}
	if err := c.ensureAPIKey(); err != nil {
		return err
	}
	return c.saveLocked()
}

// ensureAPIKey generates an API key when none is configured. Caller must hold c.mu.
func (c *Config) ensureAPIKey() error {
	if c.System.APIKey != "" {
		return nil
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return util.WrapError("generate API key", err)
	}
	c.System.APIKey = key
	slog.Info("generated API key for dashboard and API access", "path", c.filePath)
	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return util.WrapError("validate config", err)
	}

	verr := types.NewValidationError()
	for _, e := range fieldErrs {
		// Drop the root struct name from the namespace.
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		verr.Add(field, fmt.Sprintf("failed '%s' validation", e.Tag()), e.Value())
	}
	return verr
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.System.LogLevel = cmp.Or(c.System.LogLevel, DefaultLogLevel)

	// Detection defaults
	d := &c.Detection
	d.FeatureMode = cmp.Or(d.FeatureMode, DefaultFeatureMode)
	d.SampleCadenceMs = cmp.Or(d.SampleCadenceMs, DefaultSampleCadenceMs)
	d.SpikeThreshold = cmp.Or(d.SpikeThreshold, DefaultSpikeThreshold)
	d.ComboLevel = cmp.Or(d.ComboLevel, DefaultComboLevel)
	d.ComboSpike = cmp.Or(d.ComboSpike, DefaultComboSpike)
	d.AbsoluteLevel = cmp.Or(d.AbsoluteLevel, DefaultAbsoluteLevel)
	d.BaselinePolicy = cmp.Or(d.BaselinePolicy, DefaultBaselinePolicy)
	d.BaselineHistoryCapacity = cmp.Or(d.BaselineHistoryCapacity, DefaultBaselineHistoryCapacity)
	d.MinBaselineFill = cmp.Or(d.MinBaselineFill, DefaultMinBaselineFill)
	d.DefaultBaseline = cmp.Or(d.DefaultBaseline, DefaultBaseline)
	d.EMADecay = cmp.Or(d.EMADecay, DefaultEMADecay)
	d.RefractoryMs = cmp.Or(d.RefractoryMs, DefaultRefractoryMs)

	// Coordination defaults
	c.Coordination.WindowMs = cmp.Or(c.Coordination.WindowMs, DefaultCoordinationWindowMs)
	c.Coordination.ConfidenceMargin = cmp.Or(c.Coordination.ConfidenceMargin, DefaultConfidenceMargin)

	// Ducking defaults
	k := &c.Ducking
	k.DefaultLevel = cmp.Or(k.DefaultLevel, DefaultDuckLevel)
	k.DefaultDurationMs = cmp.Or(k.DefaultDurationMs, DefaultDuckDurationMs)
	k.TransitionInMs = cmp.Or(k.TransitionInMs, DefaultTransitionInMs)
	k.TransitionOutMs = cmp.Or(k.TransitionOutMs, DefaultTransitionOutMs)
	k.FrameIntervalMs = cmp.Or(k.FrameIntervalMs, DefaultFrameIntervalMs)
	k.HighConfidence = cmp.Or(k.HighConfidence, DefaultHighConfidence)
	k.PartialMultiplier = cmp.Or(k.PartialMultiplier, DefaultPartialMultiplier)

	// Classifier defaults
	c.Classifier.TimeoutMs = cmp.Or(c.Classifier.TimeoutMs, DefaultClassifierTimeoutMs)

	// Archive defaults
	c.Archive.Prefix = cmp.Or(c.Archive.Prefix, DefaultArchivePrefix)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// update applies fn, validates the result and saves it.
// The previous values are kept when validation fails.
func (c *Config) update(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := Config{
		System:        c.System,
		Detection:     c.Detection,
		Coordination:  c.Coordination,
		Ducking:       c.Ducking,
		Classifier:    c.Classifier,
		Notifications: c.Notifications,
		Archive:       c.Archive,
	}
	fn()
	if err := c.validate(); err != nil {
		c.System = prev.System
		c.Detection = prev.Detection
		c.Coordination = prev.Coordination
		c.Ducking = prev.Ducking
		c.Classifier = prev.Classifier
		c.Notifications = prev.Notifications
		c.Archive = prev.Archive
		return err
	}
	return c.saveLocked()
}

// --- Setters for individual settings ---

// SetDetection replaces the detection settings and saves the configuration.
func (c *Config) SetDetection(d DetectionConfig) error {
	return c.update(func() { c.Detection = d })
}

// SetCoordination replaces the coordination settings and saves the configuration.
func (c *Config) SetCoordination(co CoordinationConfig) error {
	return c.update(func() { c.Coordination = co })
}

// SetDucking replaces the ducking settings and saves the configuration.
func (c *Config) SetDucking(k DuckingConfig) error {
	return c.update(func() { c.Ducking = k })
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	return c.update(func() { c.Notifications.Webhook.URL = url })
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	return c.update(func() { c.Notifications.Log.Path = path })
}

// --- Getters for individual settings ---

// APIKey returns the key required by the dashboard and API endpoints.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// LogPath returns the configured log file path for notifications.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Log.Path
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort        int
	LogLevel       string
	EventLogPath   string
	AllowedOrigins []string

	// Detection, coordination and ducking
	Detection    DetectionConfig
	Coordination CoordinationConfig
	Ducking      DuckingConfig

	// Classifier
	ClassifierURL          string
	ClassifierTimeoutMs    int64
	ConfirmAudio           bool
	ClassifierTokenURL     string
	ClassifierClientID     string
	ClassifierClientSecret string
	ClassifierScopes       []string

	// Notifications
	WebhookURL string
	LogPath    string

	// Archive
	ArchiveEndpoint        string
	ArchiveBucket          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchivePrefix          string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:        c.System.Port,
		LogLevel:       c.System.LogLevel,
		EventLogPath:   c.System.EventLogPath,
		AllowedOrigins: slices.Clone(c.System.AllowedOrigins),

		Detection:    c.Detection,
		Coordination: c.Coordination,
		Ducking:      c.Ducking,

		// Classifier
		ClassifierURL:          c.Classifier.URL,
		ClassifierTimeoutMs:    c.Classifier.TimeoutMs,
		ConfirmAudio:           c.Classifier.ConfirmAudio,
		ClassifierTokenURL:     c.Classifier.TokenURL,
		ClassifierClientID:     c.Classifier.ClientID,
		ClassifierClientSecret: c.Classifier.ClientSecret,
		ClassifierScopes:       slices.Clone(c.Classifier.Scopes),

		// Notifications
		WebhookURL: c.Notifications.Webhook.URL,
		LogPath:    c.Notifications.Log.Path,

		// Archive
		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveBucket:          c.Archive.Bucket,
		ArchiveAccessKeyID:     c.Archive.AccessKeyID,
		ArchiveSecretAccessKey: c.Archive.SecretAccessKey,
		ArchivePrefix:          c.Archive.Prefix,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasClassifier reports whether an external classifier service is configured.
func (s *Snapshot) HasClassifier() bool {
	return s.ClassifierURL != ""
}

// HasArchive reports whether S3 telemetry archiving is configured.
func (s *Snapshot) HasArchive() bool {
	return util.IsConfigured(s.ArchiveBucket, s.ArchiveAccessKeyID, s.ArchiveSecretAccessKey)
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
