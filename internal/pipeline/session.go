// Package pipeline wires feature extraction, spike detection, coordination,
// ducking and feedback tracking into one session per media client.
// Every Handle method and every timer of a session runs on a single loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/crest/internal/audio"
	"github.com/oszuidwest/crest/internal/classifier"
	"github.com/oszuidwest/crest/internal/coordinator"
	"github.com/oszuidwest/crest/internal/ducking"
	"github.com/oszuidwest/crest/internal/feedback"
	"github.com/oszuidwest/crest/internal/notify"
	"github.com/oszuidwest/crest/internal/sched"
	"github.com/oszuidwest/crest/internal/types"
)

// ErrSignalUnavailable means the media client cannot deliver audio snapshots.
var ErrSignalUnavailable = errors.New("audio signal unavailable")

const (
	// echoWindow is how long a volume write is expected to come back as a change signal.
	echoWindow = 1000 * time.Millisecond
	// echoTolerance absorbs rounding of volumes by the media client.
	echoTolerance = 1e-3
)

// Remote is the transport to the media client.
type Remote interface {
	SetVolume(v float64) error
	Show(text string, d time.Duration)
	Hide()
	// Configure tells the client how often to send loudness snapshots.
	Configure(sampleCadence time.Duration)
}

// Archiver receives the end of a page's telemetry history.
type Archiver interface {
	FlushAsync(sessionID string)
}

// Options configure a Session.
type Options struct {
	ID         string
	Settings   Settings
	Scheduler  sched.Scheduler
	Post       func(fn func()) error // runs fn on the session loop
	Go         func(fn func())       // runs fn off the loop; defaults to a goroutine
	Classifier classifier.Classifier
	Remote     Remote
	Publisher  ducking.Publisher
	Archiver   Archiver
}

// media is the last known state of the client's media element.
type media struct {
	present bool
	volume  float64
}

type echo struct {
	volume float64
	at     time.Time
}

// Session is the per-client pipeline context.
type Session struct {
	id         string
	settings   Settings
	pending    *Settings
	sched      sched.Scheduler
	post       func(fn func()) error
	goFn       func(fn func())
	classifier classifier.Classifier
	remote     Remote
	pub        notify.SessionPublisher
	archiver   Archiver
	log        *slog.Logger

	baseline *audio.BaselineEstimator
	detector *audio.SpikeDetector
	coord    *coordinator.Coordinator
	ctrl     *ducking.Controller
	tracker  *feedback.Tracker
	peak     *audio.PeakHolder

	media      media
	echoes     []echo
	generation uint64
	genCtx     context.Context
	genCancel  context.CancelFunc

	audioAvailable    bool
	unavailableLogged bool

	mu     sync.RWMutex
	status types.SessionStatus
}

// New creates a Session. It must be used from the loop behind opts.Scheduler.
func New(opts Options) *Session {
	s := &Session{
		id:             opts.ID,
		settings:       opts.Settings,
		sched:          opts.Scheduler,
		post:           opts.Post,
		goFn:           opts.Go,
		classifier:     opts.Classifier,
		remote:         opts.Remote,
		archiver:       opts.Archiver,
		log:            slog.With("component", "pipeline", "session", opts.ID),
		tracker:        feedback.NewTracker(opts.Scheduler.Now()),
		peak:           audio.NewPeakHolder(),
		audioAvailable: true,
	}
	if s.goFn == nil {
		s.goFn = func(fn func()) { go fn() }
	}
	if s.classifier == nil {
		s.classifier = classifier.Local{}
	}
	s.pub = notify.SessionPublisher{SessionID: s.id, Next: statusPublisher{s: s, next: opts.Publisher}}
	s.build()
	s.refreshStatus()
	return s
}

// build creates the per-page components from the current settings.
func (s *Session) build() {
	s.baseline = audio.NewBaselineEstimator(s.settings.Baseline)
	s.detector = audio.NewSpikeDetector(s.settings.Spike)
	s.coord = coordinator.New(s.settings.Coordination)
	s.ctrl = ducking.New(s.settings.Ducking, s.sched, actuator{s: s}, s.remote, s.pub)
	s.genCtx, s.genCancel = context.WithCancel(context.Background())
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// HandleSnapshot processes one frequency-magnitude snapshot.
func (s *Session) HandleSnapshot(bins []uint8) {
	sample, ok := audio.Extract(bins, s.settings.FeatureMode, s.sched.Now())
	if !ok {
		return
	}
	s.handleSample(sample)
}

// HandlePCM processes a block of S16LE samples as an alternative snapshot source.
func (s *Session) HandlePCM(buf []byte) {
	sample, ok := audio.ExtractPCM(buf, s.settings.FeatureMode, s.sched.Now())
	if !ok {
		return
	}
	s.handleSample(sample)
}

func (s *Session) handleSample(sample types.LoudnessSample) {
	if !s.audioAvailable {
		s.audioAvailable = true
		s.log.Info("Audio signal available again")
		s.refreshStatus()
	}

	baseline := s.baseline.Add(sample)
	res := s.detector.Update(sample, baseline)
	peak := s.peak.Update(sample.Value, sample.Timestamp)

	s.mu.Lock()
	s.status.Levels = types.Levels{
		Sample:   res.Sample,
		Baseline: res.Baseline,
		Spike:    res.Spike,
		Peak:     peak,
	}
	s.mu.Unlock()

	if !res.Fired {
		return
	}

	s.log.Debug("Audio spike", "volume", res.Sample, "baseline", res.Baseline, "spike", res.Spike)

	if !s.settings.ConfirmAudio {
		s.admit(res.Event, s.settings.DefaultLevel, s.settings.DefaultDuration)
		return
	}

	features := classifier.AudioFeatures{
		Volume:    res.Sample,
		Baseline:  res.Baseline,
		Spike:     res.Spike,
		Timestamp: sample.Timestamp,
	}
	s.classify(types.TelemetryAudioAnalysis, types.SourceAudio,
		func(ctx context.Context) (classifier.Verdict, error) {
			return s.classifier.ClassifyAudio(ctx, features)
		},
		func(v classifier.Verdict) {
			ev := res.Event
			ev.Confidence = v.Confidence
			ev.Timestamp = s.sched.Now()
			s.admitVerdict(ev, v)
		})
}

// HandleCaption sends caption text to the classifier.
func (s *Session) HandleCaption(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.classify(types.TelemetrySubtitleAnalysis, types.SourceSubtitle,
		func(ctx context.Context) (classifier.Verdict, error) {
			return s.classifier.ClassifyText(ctx, text)
		},
		func(v classifier.Verdict) {
			s.admitVerdict(types.DetectionEvent{
				Source:     types.SourceSubtitle,
				Confidence: v.Confidence,
				Timestamp:  s.sched.Now(),
				Metrics:    map[string]string{"text": text},
			}, v)
		})
}

// classify runs call off the loop and hands a verdict of the current page back to onLower.
func (s *Session) classify(kind types.TelemetryType, src types.Source,
	call func(ctx context.Context) (classifier.Verdict, error), onLower func(classifier.Verdict)) {
	gen := s.generation
	ctx := s.genCtx

	s.goFn(func() {
		v, err := call(ctx)
		postErr := s.post(func() {
			if gen != s.generation {
				s.log.Debug("Dropping verdict from previous page", "source", src)
				return
			}
			if err != nil {
				s.classifierFailed(src, err)
				return
			}
			s.publish(types.TelemetryEvent{
				Type:       kind,
				Trigger:    src,
				Confidence: v.Confidence,
				Message:    fmt.Sprintf("Classifier verdict: lower=%t", v.Lower),
				Level:      v.Level,
				DurationMs: v.Duration.Milliseconds(),
			})
			if v.Lower {
				onLower(v)
			}
		})
		if postErr != nil {
			s.log.Debug("Dropping verdict, session closed", "source", src, "error", postErr)
		}
	})
}

func (s *Session) classifierFailed(src types.Source, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		s.log.Debug("Classification cancelled", "source", src)
		return
	case errors.Is(err, classifier.ErrMalformedResponse):
		s.log.Warn("Malformed classifier response, treating as no action", "source", src, "error", err)
	default:
		s.log.Warn("Classifier unreachable, detection discarded", "source", src, "error", err)
	}
	s.publish(types.TelemetryEvent{
		Type:    types.TelemetryError,
		Trigger: src,
		Message: err.Error(),
	})
}

// admitVerdict admits ev with the verdict's level and duration, falling back to defaults.
func (s *Session) admitVerdict(ev types.DetectionEvent, v classifier.Verdict) {
	level := v.Level
	if level <= 0 {
		level = s.settings.DefaultLevel
	}
	duration := v.Duration
	if duration <= 0 {
		duration = s.settings.DefaultDuration
	}
	s.admit(ev, level, duration)
}

// admit passes ev through the coordinator to the ducking controller.
func (s *Session) admit(ev types.DetectionEvent, level float64, duration time.Duration) {
	d := s.coord.Admit(ev)
	if !d.Admitted {
		s.log.Info("Detection rejected",
			"source", ev.Source,
			"confidence", ev.Confidence,
			"conflict", d.Conflict,
			"conflict_confidence", d.ConflictConfidence)
		s.publish(types.TelemetryEvent{
			Type:       types.TelemetryDetectionRejected,
			Trigger:    ev.Source,
			Confidence: ev.Confidence,
			Message:    fmt.Sprintf("Yielded to %s detection (%.2f)", d.Conflict, d.ConflictConfidence),
			Timestamp:  s.sched.Now(),
			Details:    ev.Metrics,
		})
		return
	}

	if _, err := s.ctrl.Duck(ev, level, duration); err != nil {
		s.publish(types.TelemetryEvent{
			Type:    types.TelemetryError,
			Trigger: ev.Source,
			Message: err.Error(),
		})
		return
	}
	s.tracker.RecordAdjustment(ev.Source, s.sched.Now())
	s.refreshStatus()
}

// TestDuck lowers the volume on operator request, bypassing detection.
func (s *Session) TestDuck(level float64, duration time.Duration) error {
	if level <= 0 {
		level = s.settings.DefaultLevel
	}
	if duration <= 0 {
		duration = s.settings.DefaultDuration
	}
	_, err := s.ctrl.Duck(types.DetectionEvent{
		Source:     types.SourceManual,
		Confidence: 1,
		Timestamp:  s.sched.Now(),
	}, level, duration)
	s.refreshStatus()
	return err
}

// HandleVolumeChanged processes a volume change reported by the media client.
// Changes that are not echoes of the controller's own writes are user corrections.
func (s *Session) HandleVolumeChanged(v float64) {
	s.media.volume = v
	if s.ctrl.Adjusting() || s.consumeEcho(v) {
		return
	}

	now := s.sched.Now()
	s.tracker.RecordCorrection(now)
	s.log.Info("User volume correction", "volume", v, "state", s.ctrl.State())
	s.publish(types.TelemetryEvent{
		Type:      types.TelemetryUserCorrection,
		Message:   fmt.Sprintf("User set volume to %.2f", v),
		Timestamp: now,
		Level:     v,
	})
	s.refreshStatus()

	if r, ok := s.classifier.(classifier.FeedbackReporter); ok {
		ctx := s.genCtx
		s.goFn(func() {
			if err := r.ReportCorrection(ctx); err != nil {
				s.log.Debug("Failed to report correction", "error", err)
			}
		})
	}
}

// HandleMedia records whether the client has an active media element.
func (s *Session) HandleMedia(present bool, volume float64, hasAudio bool) {
	s.media = media{present: present, volume: volume}
	if present && !hasAudio {
		s.SignalUnavailable("media has no capturable audio")
	}
	s.refreshStatus()
}

// SignalUnavailable switches the session to caption-only detection.
// It is logged once per page.
func (s *Session) SignalUnavailable(reason string) {
	s.audioAvailable = false
	if !s.unavailableLogged {
		s.unavailableLogged = true
		s.log.Warn("Audio signal unavailable, continuing with captions only", "reason", reason)
		s.publish(types.TelemetryEvent{
			Type:    types.TelemetrySystem,
			Message: fmt.Sprintf("%v: %s", ErrSignalUnavailable, reason),
		})
	}
	s.refreshStatus()
}

// Navigate resets the page state: timers, pending classifications,
// baseline, ledger and ducking state. Accuracy stats are kept.
func (s *Session) Navigate(url string) {
	s.resetPage()
	s.media = media{}
	s.log.Info("Page navigation, pipeline reset", "url", url)
	s.publish(types.TelemetryEvent{
		Type:    types.TelemetrySystem,
		Message: "Navigated to " + url,
	})
	s.refreshStatus()
}

// UpdateSettings stores new settings; they apply from the next navigation.
func (s *Session) UpdateSettings(settings Settings) {
	s.pending = &settings
}

// Close cancels all pending work and archives the page's telemetry.
func (s *Session) Close() {
	s.genCancel()
	s.ctrl.Reset()
	s.generation++
	if s.archiver != nil {
		s.archiver.FlushAsync(s.id)
	}
}

func (s *Session) resetPage() {
	s.genCancel()
	s.ctrl.Reset()
	s.generation++
	if s.pending != nil {
		s.settings = *s.pending
		s.pending = nil
		s.remote.Configure(s.settings.SampleCadence)
	}
	s.build()
	s.peak.Reset()
	s.echoes = nil
	s.audioAvailable = true
	s.unavailableLogged = false

	s.mu.Lock()
	s.status.Levels = types.Levels{}
	s.mu.Unlock()

	if s.archiver != nil {
		s.archiver.FlushAsync(s.id)
	}
}

// Status returns a snapshot of the session. It is safe to call from any goroutine.
func (s *Session) Status() types.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats returns the accuracy counters of the session.
func (s *Session) Stats() types.Stats {
	return s.tracker.Stats()
}

func (s *Session) refreshStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ID = s.id
	s.status.State = s.ctrl.State()
	s.status.Outstanding = s.ctrl.Outstanding()
	s.status.OriginalVolume = s.ctrl.OriginalVolume()
	s.status.AudioAvailable = s.audioAvailable
	s.status.MediaPresent = s.media.present
	s.status.Stats = s.tracker.Stats()
	s.status.Claims = s.liveClaims()
}

// liveClaims lists the coordination entries still inside the window.
func (s *Session) liveClaims() map[types.Source]float64 {
	if s.coord.Len() == 0 {
		return nil
	}
	now := s.sched.Now()
	claims := make(map[types.Source]float64, s.coord.Len())
	for _, src := range []types.Source{types.SourceAudio, types.SourceSubtitle, types.SourceManual} {
		if conf, ok := s.coord.Live(src, now); ok {
			claims[src] = conf
		}
	}
	return claims
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (s *Session) publish(ev types.TelemetryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.sched.Now()
	}
	s.pub.Publish(ev)
}

// consumeEcho reports whether v matches a recent write of the controller.
func (s *Session) consumeEcho(v float64) bool {
	now := s.sched.Now()
	live := s.echoes[:0]
	for _, e := range s.echoes {
		if now.Sub(e.at) <= echoWindow {
			live = append(live, e)
		}
	}
	s.echoes = live

	for i, e := range s.echoes {
		if math.Abs(e.volume-v) < echoTolerance {
			// Writes arrive in order, so older echoes were skipped by the client.
			s.echoes = s.echoes[i+1:]
			return true
		}
	}
	return false
}

// actuator adapts the remote media client to ducking.Actuator.
type actuator struct {
	s *Session
}

func (a actuator) Volume() (float64, error) {
	if !a.s.media.present {
		return 0, ducking.ErrActuatorMissing
	}
	return a.s.media.volume, nil
}

func (a actuator) SetVolume(v float64) error {
	if !a.s.media.present || a.s.remote == nil {
		return ducking.ErrActuatorMissing
	}
	if err := a.s.remote.SetVolume(v); err != nil {
		return err
	}
	a.s.media.volume = v
	a.s.echoes = append(a.s.echoes, echo{volume: v, at: a.s.sched.Now()})
	return nil
}

// statusPublisher refreshes the session status before forwarding controller events.
type statusPublisher struct {
	s    *Session
	next ducking.Publisher
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (p statusPublisher) Publish(ev types.TelemetryEvent) {
	p.s.refreshStatus()
	if p.next != nil {
		p.next.Publish(ev)
	}
}
