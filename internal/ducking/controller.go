// Package ducking implements the volume-adjustment state machine that
// temporarily lowers playback volume and restores it once every
// overlapping request has expired.
package ducking

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/crest/internal/sched"
	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

// ErrActuatorMissing is returned when there is no active media to adjust.
var ErrActuatorMissing = errors.New("no active media")

// Default transition timings.
const (
	DefaultTransitionIn  = 200 * time.Millisecond
	DefaultTransitionOut = 500 * time.Millisecond
	DefaultFrameInterval = 16 * time.Millisecond
)

// Actuator reads and writes playback volume.
// Both methods return ErrActuatorMissing when no media is present.
type Actuator interface {
	Volume() (float64, error)
	SetVolume(v float64) error
}

// Notifier shows duration-scoped text to the viewer.
type Notifier interface {
	Show(text string, d time.Duration)
	Hide()
}

// Publisher receives telemetry events. Delivery is best-effort.
type Publisher interface {
	Publish(ev types.TelemetryEvent)
}

// Config holds the controller tuning.
type Config struct {
	TransitionIn      time.Duration
	TransitionOut     time.Duration
	FrameInterval     time.Duration
	HighConfidence    float64 // confidence at or above which the full duck applies
	PartialMultiplier float64 // level multiplier for less certain detections
}

// Request is one admitted ducking request.
type Request struct {
	ID             string
	RequestedLevel float64
	Duration       time.Duration
	Confidence     float64
	Trigger        types.Source
	StartTime      time.Time
	Target         float64 // volume actually applied

	restore sched.Task
}

// Controller owns the Idle -> Ducking -> Restoring -> Idle state machine.
// It is not safe for concurrent use; every method must run on the scheduler's loop.
type Controller struct {
	cfg      Config
	sched    sched.Scheduler
	act      Actuator
	notifier Notifier
	pub      Publisher
	log      *slog.Logger

	state       types.DuckState
	original    float64
	outstanding map[string]*Request
	current     *transition
	lastWritten float64
	adjusting   bool
}

// New creates a Controller. notifier and pub may be nil.
func New(cfg Config, s sched.Scheduler, act Actuator, notifier Notifier, pub Publisher) *Controller {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.HighConfidence == 0 {
		cfg.HighConfidence = 0.8
	}
	if cfg.PartialMultiplier == 0 {
		cfg.PartialMultiplier = 0.5
	}
	return &Controller{
		cfg:         cfg,
		sched:       s,
		act:         act,
		notifier:    notifier,
		pub:         pub,
		log:         slog.With("component", "ducking"),
		state:       types.DuckIdle,
		outstanding: make(map[string]*Request),
	}
}

// TargetLevel returns the volume applied for a requested level at the given confidence.
func (c *Controller) TargetLevel(level, confidence float64) float64 {
	if confidence >= c.cfg.HighConfidence {
		return level
	}
	return level * c.cfg.PartialMultiplier
}

// Duck applies an admitted detection. The volume is lowered when idle or
// restoring; while already ducking the reduced level holds and only a new
// restoration timer is added.
func (c *Controller) Duck(ev types.DetectionEvent, level float64, duration time.Duration) (*Request, error) {
	current, err := c.act.Volume()
	if err != nil {
		c.log.Warn("Ignoring detection, no active media", "trigger", ev.Source, "error", err)
		return nil, ErrActuatorMissing
	}

	req := &Request{
		ID:             uuid.NewString(),
		RequestedLevel: level,
		Duration:       duration,
		Confidence:     ev.Confidence,
		Trigger:        ev.Source,
		StartTime:      c.sched.Now(),
		Target:         c.TargetLevel(level, ev.Confidence),
	}

	switch c.state {
	case types.DuckIdle:
		c.original = current
		c.state = types.DuckDucking
		c.animate(current, req.Target, c.cfg.TransitionIn, func() {})
	case types.DuckRestoring:
		// originalVolume stays frozen from the first request.
		c.state = types.DuckDucking
		c.animate(current, req.Target, c.cfg.TransitionIn, func() {})
	case types.DuckDucking:
	}

	c.outstanding[req.ID] = req
	req.restore = c.sched.After(duration, func() { c.expire(req.ID) })

	c.log.Info("Volume lowered",
		"request", req.ID,
		"trigger", req.Trigger,
		"confidence", req.Confidence,
		"level", req.Target,
		"duration", duration,
		"outstanding", len(c.outstanding))

	text := fmt.Sprintf("Volume lowered (%s confidence, %s)", confidenceLabel(req.Confidence, c.cfg.HighConfidence), req.Trigger)
	if c.notifier != nil {
		c.notifier.Show(text, duration)
	}
	c.publish(types.TelemetryEvent{
		Type:       types.TelemetryVolumeAdjustment,
		Trigger:    req.Trigger,
		Confidence: req.Confidence,
		Message:    text + " for " + util.FormatDuration(duration),
		Timestamp:  req.StartTime,
		Level:      req.Target,
		DurationMs: duration.Milliseconds(),
		Details:    ev.Metrics,
	})
	return req, nil
}

// expire removes a request whose duration elapsed and restores once none remain.
func (c *Controller) expire(id string) {
	if _, ok := c.outstanding[id]; !ok {
		return
	}
	delete(c.outstanding, id)
	if len(c.outstanding) > 0 {
		c.log.Debug("Restoration deferred", "request", id, "outstanding", len(c.outstanding))
		return
	}

	from, err := c.act.Volume()
	if err != nil {
		from = c.lastWritten
	}
	c.state = types.DuckRestoring
	original := c.original
	c.animate(from, original, c.cfg.TransitionOut, func() {
		c.state = types.DuckIdle
		c.original = 0
		if c.notifier != nil {
			c.notifier.Hide()
		}
		c.log.Info("Volume restored", "volume", original)
		c.publish(types.TelemetryEvent{
			Type:      types.TelemetryVolumeRestored,
			Message:   "Volume restored",
			Timestamp: c.sched.Now(),
			Level:     original,
		})
	})
}

// animate replaces any running transition with one from -> to.
func (c *Controller) animate(from, to float64, d time.Duration, done func()) {
	if c.current != nil {
		c.current.cancel()
	}
	t := &transition{
		from:     from,
		to:       to,
		start:    c.sched.Now(),
		duration: d,
		frame:    c.cfg.FrameInterval,
		write:    c.write,
	}
	t.done = func() {
		if c.current == t {
			c.current = nil
		}
		done()
	}
	c.current = t
	t.run(c.sched)
}

// write sets the actuator volume with the adjusting flag raised.
// A missing actuator turns the write into a no-op.
func (c *Controller) write(v float64) {
	c.adjusting = true
	err := c.act.SetVolume(v)
	c.adjusting = false
	if err != nil {
		c.log.Debug("Volume write skipped", "volume", v, "error", err)
		return
	}
	c.lastWritten = v
}

// Adjusting reports whether the controller is inside one of its own volume writes.
func (c *Controller) Adjusting() bool {
	return c.adjusting
}

// State returns the current state.
func (c *Controller) State() types.DuckState {
	return c.state
}

// Outstanding returns the number of requests holding the volume down.
func (c *Controller) Outstanding() int {
	return len(c.outstanding)
}

// OriginalVolume returns the captured pre-duck volume, or 0 when idle.
func (c *Controller) OriginalVolume() float64 {
	return c.original
}

// Reset cancels every pending timer and returns to Idle without touching the volume.
func (c *Controller) Reset() {
	for id, req := range c.outstanding {
		if req.restore != nil {
			req.restore.Cancel()
		}
		delete(c.outstanding, id)
	}
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
	if c.state != types.DuckIdle && c.notifier != nil {
		c.notifier.Hide()
	}
	c.state = types.DuckIdle
	c.original = 0
}

func (c *Controller) publish(ev types.TelemetryEvent) {
	if c.pub != nil {
		c.pub.Publish(ev)
	}
}

func confidenceLabel(confidence, high float64) string {
	if confidence >= high {
		return "High"
	}
	return "Partial"
}
