package pipeline

import (
	"time"

	"github.com/oszuidwest/crest/internal/audio"
	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/coordinator"
	"github.com/oszuidwest/crest/internal/ducking"
)

// Settings is the resolved tuning of one session.
type Settings struct {
	SampleCadence   time.Duration // snapshot interval requested from the media client
	FeatureMode     audio.FeatureMode
	Baseline        audio.BaselineConfig
	Spike           audio.SpikeConfig
	Coordination    coordinator.Config
	Ducking         ducking.Config
	DefaultLevel    float64
	DefaultDuration time.Duration
	ConfirmAudio    bool
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// SettingsFromSnapshot converts configuration values into session settings.
//
//nolint:gocritic // hugeParam: called once per session or settings change
func SettingsFromSnapshot(s config.Snapshot) Settings {
	d := s.Detection
	k := s.Ducking
	return Settings{
		SampleCadence: ms(d.SampleCadenceMs),
		FeatureMode:   audio.FeatureMode(d.FeatureMode),
		Baseline: audio.BaselineConfig{
			Policy:   audio.BaselinePolicy(d.BaselinePolicy),
			Capacity: d.BaselineHistoryCapacity,
			MinFill:  d.MinBaselineFill,
			Default:  d.DefaultBaseline,
			Decay:    d.EMADecay,
		},
		Spike: audio.SpikeConfig{
			Threshold:     d.SpikeThreshold,
			ComboLevel:    d.ComboLevel,
			ComboSpike:    d.ComboSpike,
			AbsoluteLevel: d.AbsoluteLevel,
			Refractory:    ms(d.RefractoryMs),
		},
		Coordination: coordinator.Config{
			Window: ms(s.Coordination.WindowMs),
			Margin: s.Coordination.ConfidenceMargin,
		},
		Ducking: ducking.Config{
			TransitionIn:      ms(k.TransitionInMs),
			TransitionOut:     ms(k.TransitionOutMs),
			FrameInterval:     ms(k.FrameIntervalMs),
			HighConfidence:    k.HighConfidence,
			PartialMultiplier: k.PartialMultiplier,
		},
		DefaultLevel:    k.DefaultLevel,
		DefaultDuration: ms(k.DefaultDurationMs),
		ConfirmAudio:    s.ConfirmAudio,
	}
}

// DefaultSettings returns the settings of a default configuration.
func DefaultSettings() Settings {
	return SettingsFromSnapshot(config.New("").Snapshot())
}
