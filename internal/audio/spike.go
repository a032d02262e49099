package audio

import (
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

// SpikeConfig holds the configurable thresholds for loud event detection.
type SpikeConfig struct {
	Threshold     float64       // spike above baseline that fires on its own
	ComboLevel    float64       // absolute level for the combined condition
	ComboSpike    float64       // spike required together with ComboLevel
	AbsoluteLevel float64       // absolute level that fires regardless of baseline
	Refractory    time.Duration // quiet period after an accepted detection
}

// SpikeResult represents the outcome of one detector update.
type SpikeResult struct {
	Sample   float64 // Current loudness sample
	Baseline float64 // Baseline the sample was compared against
	Spike    float64 // Sample minus baseline

	Qualified  bool // The sample met at least one firing condition
	Suppressed bool // Qualified but inside the refractory period
	Fired      bool // A detection was emitted on this update

	Event types.DetectionEvent // Valid only when Fired
}

// SpikeDetector flags samples that are loud relative to the baseline.
// It is not safe for concurrent use; a session loop owns it.
type SpikeDetector struct {
	cfg      SpikeConfig
	lastFire time.Time
}

// NewSpikeDetector creates a new spike detector.
func NewSpikeDetector(cfg SpikeConfig) *SpikeDetector {
	return &SpikeDetector{cfg: cfg}
}

// Qualifies reports whether sample is a loud event against baseline.
// The predicate is monotone in sample for a fixed baseline.
func (c SpikeConfig) Qualifies(sample, baseline float64) bool {
	spike := sample - baseline
	return spike > c.Threshold ||
		(sample > c.ComboLevel && spike > c.ComboSpike) ||
		sample > c.AbsoluteLevel
}

// Confidence maps a spike to [0,1], saturating at twice the threshold.
func (c SpikeConfig) Confidence(spike float64) float64 {
	if c.Threshold <= 0 {
		return 1
	}
	return min(max(spike/(2*c.Threshold), 0), 1)
}

// Update compares a sample against the baseline and returns the detection outcome.
func (d *SpikeDetector) Update(sample types.LoudnessSample, baseline float64) SpikeResult {
	spike := sample.Value - baseline
	result := SpikeResult{
		Sample:   sample.Value,
		Baseline: baseline,
		Spike:    spike,
	}

	if !d.cfg.Qualifies(sample.Value, baseline) {
		return result
	}
	result.Qualified = true

	if !d.lastFire.IsZero() && sample.Timestamp.Sub(d.lastFire) < d.cfg.Refractory {
		result.Suppressed = true
		return result
	}

	d.lastFire = sample.Timestamp
	result.Fired = true
	result.Event = types.DetectionEvent{
		Source:     types.SourceAudio,
		Confidence: d.cfg.Confidence(spike),
		Timestamp:  sample.Timestamp,
		Metrics: types.SpikeMetrics{
			Volume:   sample.Value,
			Baseline: baseline,
			Spike:    spike,
		},
	}
	return result
}

// Reset clears the refractory state.
func (d *SpikeDetector) Reset() {
	d.lastFire = time.Time{}
}
