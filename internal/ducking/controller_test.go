package ducking

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/oszuidwest/crest/internal/sched"
	"github.com/oszuidwest/crest/internal/types"
)

type fakeActuator struct {
	volume       float64
	absent       bool
	writes       []float64
	ctrl         *Controller
	notAdjusting int
}

func (a *fakeActuator) Volume() (float64, error) {
	if a.absent {
		return 0, ErrActuatorMissing
	}
	return a.volume, nil
}

func (a *fakeActuator) SetVolume(v float64) error {
	if a.absent {
		return ErrActuatorMissing
	}
	if a.ctrl != nil && !a.ctrl.Adjusting() {
		a.notAdjusting++
	}
	a.volume = v
	a.writes = append(a.writes, v)
	return nil
}

type fakeNotifier struct {
	shown  []string
	hidden int
}

func (n *fakeNotifier) Show(text string, _ time.Duration) { n.shown = append(n.shown, text) }
func (n *fakeNotifier) Hide()                             { n.hidden++ }

type recordingPublisher struct {
	events []types.TelemetryEvent
}

func (p *recordingPublisher) Publish(ev types.TelemetryEvent) { p.events = append(p.events, ev) }

func (p *recordingPublisher) count(typ types.TelemetryType) int {
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	clock *sched.Manual
	act   *fakeActuator
	note  *fakeNotifier
	pub   *recordingPublisher
	ctrl  *Controller
}

func newHarness(volume float64) *harness {
	h := &harness{
		clock: sched.NewManual(time.Unix(1_700_000_000, 0)),
		act:   &fakeActuator{volume: volume},
		note:  &fakeNotifier{},
		pub:   &recordingPublisher{},
	}
	h.ctrl = New(Config{
		TransitionIn:      DefaultTransitionIn,
		TransitionOut:     DefaultTransitionOut,
		FrameInterval:     DefaultFrameInterval,
		HighConfidence:    0.8,
		PartialMultiplier: 0.5,
	}, h.clock, h.act, h.note, h.pub)
	h.act.ctrl = h.ctrl
	return h
}

func (h *harness) duck(t *testing.T, conf, level float64, d time.Duration) *Request {
	t.Helper()
	req, err := h.ctrl.Duck(types.DetectionEvent{
		Source:     types.SourceSubtitle,
		Confidence: conf,
		Timestamp:  h.clock.Now(),
	}, level, d)
	if err != nil {
		t.Fatalf("Duck() error = %v", err)
	}
	return req
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEase(t *testing.T) {
	tests := []struct {
		p, want float64
	}{
		{0, 0},
		{0.25, 0.125},
		{0.5, 0.5},
		{0.75, 0.875},
		{1, 1},
		{-1, 0},
		{2, 1},
	}
	for _, tt := range tests {
		if got := Ease(tt.p); !almostEqual(got, tt.want) {
			t.Errorf("Ease(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestDuckEndToEnd(t *testing.T) {
	h := newHarness(1.0)
	h.duck(t, 0.9, 0.3, 3000*time.Millisecond)

	if h.ctrl.State() != types.DuckDucking {
		t.Fatalf("state = %q, want ducking", h.ctrl.State())
	}

	h.clock.Advance(100 * time.Millisecond)
	if v := h.act.volume; v <= 0.3 || v >= 1.0 {
		t.Errorf("volume mid transition = %v, want strictly between 0.3 and 1.0", v)
	}

	h.clock.Advance(100 * time.Millisecond)
	if !almostEqual(h.act.volume, 0.3) {
		t.Fatalf("volume at 200ms = %v, want 0.3", h.act.volume)
	}

	h.clock.Advance(2800 * time.Millisecond)
	if !almostEqual(h.act.volume, 0.3) || h.ctrl.State() != types.DuckRestoring {
		t.Errorf("at 3000ms volume = %v state = %q, want 0.3/restoring", h.act.volume, h.ctrl.State())
	}

	h.clock.Advance(500 * time.Millisecond)
	if !almostEqual(h.act.volume, 1.0) {
		t.Errorf("volume at 3500ms = %v, want 1.0", h.act.volume)
	}
	if h.ctrl.State() != types.DuckIdle {
		t.Errorf("state = %q, want idle", h.ctrl.State())
	}
	if h.note.hidden != 1 {
		t.Errorf("notification hidden %d times, want 1", h.note.hidden)
	}
	if h.act.notAdjusting != 0 {
		t.Errorf("%d writes happened without the adjusting flag", h.act.notAdjusting)
	}
	if h.ctrl.Adjusting() {
		t.Error("adjusting flag left raised")
	}
	if h.clock.Pending() != 0 {
		t.Errorf("%d timers left pending", h.clock.Pending())
	}
}

func TestDuckWritesAreMonotone(t *testing.T) {
	h := newHarness(1.0)
	h.duck(t, 0.9, 0.3, time.Second)
	h.clock.Advance(200 * time.Millisecond)

	for i := 1; i < len(h.act.writes); i++ {
		if h.act.writes[i] > h.act.writes[i-1] {
			t.Fatalf("write %d rose from %v to %v while lowering", i, h.act.writes[i-1], h.act.writes[i])
		}
	}
}

func TestOverlappingRequestsRestoreOnce(t *testing.T) {
	h := newHarness(1.0)
	h.duck(t, 0.9, 0.3, 1000*time.Millisecond)
	h.clock.Advance(100 * time.Millisecond)
	// The second request arrives mid transition and must not re-capture that level.
	h.duck(t, 0.9, 0.3, 2900*time.Millisecond)

	if h.ctrl.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2", h.ctrl.Outstanding())
	}

	h.clock.Advance(1400 * time.Millisecond)
	if h.ctrl.State() != types.DuckDucking || h.ctrl.Outstanding() != 1 {
		t.Errorf("at 1500ms state = %q outstanding = %d, want ducking/1", h.ctrl.State(), h.ctrl.Outstanding())
	}
	if !almostEqual(h.act.volume, 0.3) {
		t.Errorf("volume at 1500ms = %v, want held at 0.3", h.act.volume)
	}
	if h.ctrl.OriginalVolume() != 1.0 {
		t.Errorf("original volume = %v, want 1.0", h.ctrl.OriginalVolume())
	}

	h.clock.Advance(1500 * time.Millisecond)
	if h.ctrl.State() != types.DuckRestoring {
		t.Errorf("at 3000ms state = %q, want restoring", h.ctrl.State())
	}

	h.clock.Advance(500 * time.Millisecond)
	if h.ctrl.State() != types.DuckIdle || !almostEqual(h.act.volume, 1.0) {
		t.Errorf("at 3500ms state = %q volume = %v, want idle/1.0", h.ctrl.State(), h.act.volume)
	}
	if got := h.pub.count(types.TelemetryVolumeRestored); got != 1 {
		t.Errorf("restorations = %d, want 1", got)
	}
	if got := h.pub.count(types.TelemetryVolumeAdjustment); got != 2 {
		t.Errorf("adjustment events = %d, want 2", got)
	}
}

func TestDuckDuringRestoreKeepsOriginal(t *testing.T) {
	h := newHarness(0.8)
	h.duck(t, 0.9, 0.2, time.Second)
	h.clock.Advance(1200 * time.Millisecond)
	if h.ctrl.State() != types.DuckRestoring {
		t.Fatalf("state = %q, want restoring", h.ctrl.State())
	}
	partial := h.act.volume

	h.duck(t, 0.9, 0.2, time.Second)
	if h.ctrl.State() != types.DuckDucking {
		t.Fatalf("state = %q, want ducking", h.ctrl.State())
	}
	if h.ctrl.OriginalVolume() != 0.8 {
		t.Errorf("original volume = %v, want 0.8 not the partial level %v", h.ctrl.OriginalVolume(), partial)
	}

	h.clock.Advance(200 * time.Millisecond)
	if !almostEqual(h.act.volume, 0.2) {
		t.Errorf("volume = %v, want 0.2", h.act.volume)
	}
	h.clock.Advance(1300 * time.Millisecond)
	if h.ctrl.State() != types.DuckIdle || !almostEqual(h.act.volume, 0.8) {
		t.Errorf("state = %q volume = %v, want idle/0.8", h.ctrl.State(), h.act.volume)
	}
	if got := h.pub.count(types.TelemetryVolumeRestored); got != 1 {
		t.Errorf("restorations = %d, want 1", got)
	}
}

func TestTargetLevel(t *testing.T) {
	h := newHarness(1.0)
	tests := []struct {
		name       string
		level      float64
		confidence float64
		want       float64
	}{
		{"high confidence", 0.3, 0.9, 0.3},
		{"exactly high", 0.3, 0.8, 0.3},
		{"partial", 0.3, 0.5, 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.ctrl.TargetLevel(tt.level, tt.confidence); !almostEqual(got, tt.want) {
				t.Errorf("TargetLevel(%v, %v) = %v, want %v", tt.level, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestDuckWithoutMedia(t *testing.T) {
	h := newHarness(1.0)
	h.act.absent = true

	_, err := h.ctrl.Duck(types.DetectionEvent{Source: types.SourceAudio, Confidence: 0.9}, 0.3, time.Second)
	if !errors.Is(err, ErrActuatorMissing) {
		t.Fatalf("Duck() error = %v, want ErrActuatorMissing", err)
	}
	if h.ctrl.State() != types.DuckIdle || h.clock.Pending() != 0 {
		t.Errorf("state = %q pending = %d, want idle with no timers", h.ctrl.State(), h.clock.Pending())
	}
}

func TestActuatorDisappearsMidDuck(t *testing.T) {
	h := newHarness(1.0)
	h.duck(t, 0.9, 0.3, time.Second)
	h.clock.Advance(300 * time.Millisecond)
	writes := len(h.act.writes)

	h.act.absent = true
	h.clock.Advance(2 * time.Second)

	if h.ctrl.State() != types.DuckIdle {
		t.Errorf("state = %q, want idle after the timer fired", h.ctrl.State())
	}
	if len(h.act.writes) != writes {
		t.Errorf("writes grew from %d to %d with no media", writes, len(h.act.writes))
	}
}

func TestResetCancelsTimers(t *testing.T) {
	h := newHarness(1.0)
	h.duck(t, 0.9, 0.3, time.Second)
	h.duck(t, 0.9, 0.3, 2*time.Second)
	h.clock.Advance(50 * time.Millisecond)

	h.ctrl.Reset()
	writes := len(h.act.writes)
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers after Reset = %d, want 0", h.clock.Pending())
	}

	h.clock.Advance(5 * time.Second)
	if len(h.act.writes) != writes {
		t.Error("volume written after Reset")
	}
	if h.ctrl.State() != types.DuckIdle || h.ctrl.Outstanding() != 0 || h.ctrl.OriginalVolume() != 0 {
		t.Errorf("after Reset: state = %q outstanding = %d original = %v",
			h.ctrl.State(), h.ctrl.Outstanding(), h.ctrl.OriginalVolume())
	}
	if h.pub.count(types.TelemetryVolumeRestored) != 0 {
		t.Error("restoration published after Reset")
	}
}

func TestDuckNotifies(t *testing.T) {
	h := newHarness(1.0)
	req := h.duck(t, 0.5, 0.3, time.Second)
	if req.ID == "" || !almostEqual(req.Target, 0.15) {
		t.Errorf("request = %+v", req)
	}
	if len(h.note.shown) != 1 || h.note.shown[0] != "Volume lowered (Partial confidence, subtitle)" {
		t.Errorf("notifications = %q", h.note.shown)
	}
}
