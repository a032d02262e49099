package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

// Event webhook retry policy.
const (
	webhookAttempts     = 3
	webhookInitialDelay = 500 * time.Millisecond
	webhookMaxDelay     = 4 * time.Second
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event      string  `json:"event"`
	SessionID  string  `json:"session_id,omitempty"`
	Trigger    string  `json:"trigger,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Level      float64 `json:"level,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Message    string  `json:"message,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// SendEventWebhook delivers a telemetry event to the configured webhook.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func SendEventWebhook(webhookURL string, ev types.TelemetryEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return sendWebhookWithRetry(webhookURL, &WebhookPayload{
		Event:      string(ev.Type),
		SessionID:  ev.SessionID,
		Trigger:    string(ev.Trigger),
		Confidence: ev.Confidence,
		Level:      ev.Level,
		DurationMs: ev.DurationMs,
		Message:    ev.Message,
		Timestamp:  ts.UTC().Format(time.RFC3339),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhookWithRetry retries failed deliveries with exponential backoff.
func sendWebhookWithRetry(webhookURL string, payload *WebhookPayload) error {
	backoff := util.Backoff{Initial: webhookInitialDelay, Max: webhookMaxDelay}
	return util.Retry(context.Background(), webhookAttempts, backoff, func() error {
		return sendWebhook(webhookURL, payload)
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10000 * time.Millisecond}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
