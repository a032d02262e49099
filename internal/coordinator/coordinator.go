// Package coordinator arbitrates detections that arrive from different signal paths.
// Two sources reporting one real-world event inside the coordination window
// must produce a single ducking action.
package coordinator

import (
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

// Defaults for the coordination window and confidence margin.
const (
	DefaultWindow = 2000 * time.Millisecond
	DefaultMargin = 0.1
)

// Config holds the arbitration parameters.
type Config struct {
	Window time.Duration // span in which detections count as one event
	Margin float64       // confidence a challenger must exceed the holder by
}

// entry is the ledger record of one source.
type entry struct {
	timestamp  time.Time
	confidence float64
}

// Decision is the result of admitting one detection.
type Decision struct {
	Admitted bool

	// Conflict is the source whose live entry was weighed, or "" if none.
	Conflict           types.Source
	ConflictConfidence float64
}

// Coordinator holds the coordination ledger.
// It is not safe for concurrent use; events must arrive in order on one loop.
type Coordinator struct {
	cfg    Config
	ledger map[types.Source]entry
}

// New creates a Coordinator with an empty ledger.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		ledger: make(map[types.Source]entry),
	}
}

// Admit decides whether ev may proceed to the ducking controller.
func (c *Coordinator) Admit(ev types.DetectionEvent) Decision {
	c.prune(ev.Timestamp)

	var (
		decision Decision
		conflict bool
	)
	for src, e := range c.ledger {
		if src == ev.Source {
			continue
		}
		if !conflict || e.confidence > decision.ConflictConfidence {
			decision.Conflict = src
			decision.ConflictConfidence = e.confidence
			conflict = true
		}
	}

	if conflict && ev.Confidence <= decision.ConflictConfidence+c.cfg.Margin {
		return decision
	}

	// The challenger wins: every other source's claim yields.
	if conflict {
		for src := range c.ledger {
			if src != ev.Source {
				delete(c.ledger, src)
			}
		}
	}

	c.ledger[ev.Source] = entry{timestamp: ev.Timestamp, confidence: ev.Confidence}
	decision.Admitted = true
	return decision
}

// Live reports the live ledger entry of src, if any, as of now.
func (c *Coordinator) Live(src types.Source, now time.Time) (confidence float64, ok bool) {
	e, exists := c.ledger[src]
	if !exists || now.Sub(e.timestamp) >= c.cfg.Window {
		return 0, false
	}
	return e.confidence, true
}

// Len returns the number of ledger entries.
func (c *Coordinator) Len() int {
	return len(c.ledger)
}

// Reset clears the ledger.
func (c *Coordinator) Reset() {
	clear(c.ledger)
}

// prune removes entries that have aged out of the window.
func (c *Coordinator) prune(now time.Time) {
	for src, e := range c.ledger {
		if now.Sub(e.timestamp) >= c.cfg.Window {
			delete(c.ledger, src)
		}
	}
}
