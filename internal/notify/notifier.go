// Package notify delivers telemetry events to the dashboard and to the
// configured notification channels. Delivery is best-effort: failures are
// logged and never reach the ducking pipeline.
package notify

import (
	"time"

	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

// Sink receives every telemetry event in publish order.
// Record must not block.
type Sink interface {
	Record(ev types.TelemetryEvent)
}

// remoteEvents are forwarded to the webhook and notification log.
var remoteEvents = map[types.TelemetryType]bool{
	types.TelemetryVolumeAdjustment:  true,
	types.TelemetryVolumeRestored:    true,
	types.TelemetryDetectionRejected: true,
	types.TelemetryUserCorrection:    true,
	types.TelemetryError:             true,
}

// EventNotifier fans telemetry events out to local sinks and remote channels.
type EventNotifier struct {
	cfg   *config.Config
	sinks []Sink
}

// NewEventNotifier returns an EventNotifier for the given config and local sinks.
func NewEventNotifier(cfg *config.Config, sinks ...Sink) *EventNotifier {
	return &EventNotifier{cfg: cfg, sinks: sinks}
}

// Publish delivers ev to every sink and starts remote deliveries in the background.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *EventNotifier) Publish(ev types.TelemetryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, s := range n.sinks {
		s.Record(ev)
	}

	if !remoteEvents[ev.Type] {
		return
	}
	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error { return SendEventWebhook(cfg.WebhookURL, ev) }, "Event webhook")
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(func() error { return LogEvent(cfg.LogPath, ev) }, "Event log")
	}
}

// SessionPublisher stamps a session ID on every event it forwards.
type SessionPublisher struct {
	SessionID string
	Next      interface{ Publish(types.TelemetryEvent) }
}

// Publish implements ducking.Publisher.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (p SessionPublisher) Publish(ev types.TelemetryEvent) {
	if ev.SessionID == "" {
		ev.SessionID = p.SessionID
	}
	p.Next.Publish(ev)
}
