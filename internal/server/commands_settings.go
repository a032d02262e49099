package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/crest/internal/pipeline"
)

// testDuckTimeout bounds the wait for a session loop to run a manual duck.
const testDuckTimeout = 5 * time.Second

// set copies *src into *dst when src is provided.
func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// applySettings pushes the current configuration to every player session.
func (h *CommandHandler) applySettings() {
	h.sessions.UpdateSettings(pipeline.SettingsFromSnapshot(h.cfg.Snapshot()))
}

// --- Detection handlers ---

// handleDetectionUpdate processes a detection/update command.
func (h *CommandHandler) handleDetectionUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *DetectionUpdateRequest) error {
		d := h.cfg.Snapshot().Detection
		set(&d.FeatureMode, req.FeatureMode)
		set(&d.SpikeThreshold, req.SpikeThreshold)
		set(&d.ComboLevel, req.ComboLevel)
		set(&d.ComboSpike, req.ComboSpike)
		set(&d.AbsoluteLevel, req.AbsoluteLevel)
		set(&d.BaselinePolicy, req.BaselinePolicy)
		set(&d.BaselineHistoryCapacity, req.BaselineHistoryCapacity)
		set(&d.MinBaselineFill, req.MinBaselineFill)
		set(&d.DefaultBaseline, req.DefaultBaseline)
		set(&d.EMADecay, req.EMADecay)
		set(&d.RefractoryMs, req.RefractoryMs)

		if err := h.cfg.SetDetection(d); err != nil {
			return err
		}
		slog.Info("detection/update: settings changed, applied on next navigation")
		h.applySettings()
		return nil
	})
}

// --- Coordination handlers ---

// handleCoordinationUpdate processes a coordination/update command.
func (h *CommandHandler) handleCoordinationUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *CoordinationUpdateRequest) error {
		co := h.cfg.Snapshot().Coordination
		set(&co.WindowMs, req.WindowMs)
		set(&co.ConfidenceMargin, req.ConfidenceMargin)

		if err := h.cfg.SetCoordination(co); err != nil {
			return err
		}
		h.applySettings()
		return nil
	})
}

// --- Ducking handlers ---

// handleDuckingUpdate processes a ducking/update command.
func (h *CommandHandler) handleDuckingUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *DuckingUpdateRequest) error {
		k := h.cfg.Snapshot().Ducking
		set(&k.DefaultLevel, req.DefaultLevel)
		set(&k.DefaultDurationMs, req.DefaultDurationMs)
		set(&k.TransitionInMs, req.TransitionInMs)
		set(&k.TransitionOutMs, req.TransitionOutMs)
		set(&k.HighConfidence, req.HighConfidence)
		set(&k.PartialMultiplier, req.PartialMultiplier)

		if err := h.cfg.SetDucking(k); err != nil {
			return err
		}
		h.applySettings()
		return nil
	})
}

// --- Manual test handlers ---

// handleTestDuck processes a test/duck command.
func (h *CommandHandler) handleTestDuck(cmd WSCommand, send chan<- any) {
	var req TestDuckRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), testDuckTimeout)
		defer cancel()

		duration := time.Duration(req.DurationMs) * time.Millisecond
		if err := h.sessions.TestDuck(ctx, req.SessionID, req.Level, duration); err != nil {
			return nil, err
		}
		slog.Info("test/duck: volume lowered", "session", req.SessionID, "level", req.Level)
		return nil, nil
	})
}
