package notify

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/oszuidwest/crest/internal/types"
)

// DefaultRecentEvents is the number of events the hub keeps for new subscribers.
const DefaultRecentEvents = 50

// subscriberBuffer is the queue length of a single dashboard subscriber.
const subscriberBuffer = 32

// Hub broadcasts telemetry events to dashboard subscribers and keeps the
// most recent ones in memory. Slow subscribers miss events instead of
// blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan types.TelemetryEvent
	nextID int
	recent []types.TelemetryEvent
	limit  int
}

// NewHub creates a Hub that remembers up to limit events.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = DefaultRecentEvents
	}
	return &Hub{
		subs:  make(map[int]chan types.TelemetryEvent),
		limit: limit,
	}
}

// Record implements Sink.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (h *Hub) Record(ev types.TelemetryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, ev)
	if len(h.recent) > h.limit {
		h.recent = slices.Delete(h.recent, 0, len(h.recent)-h.limit)
	}

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("dashboard subscriber lagging, event dropped", "subscriber", id, "type", ev.Type)
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan types.TelemetryEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan types.TelemetryEvent, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns the remembered events, newest first.
func (h *Hub) Recent() []types.TelemetryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := slices.Clone(h.recent)
	slices.Reverse(out)
	return out
}
