package audio

import (
	"slices"

	"github.com/oszuidwest/crest/internal/types"
)

// BaselinePolicy selects how the ambient loudness estimate is derived from history.
type BaselinePolicy string

const (
	// BaselineMedian uses the median of the history buffer.
	BaselineMedian BaselinePolicy = "median"
	// BaselineEMA folds the history buffer through an exponential moving average.
	BaselineEMA BaselinePolicy = "ema"
)

// BaselineConfig holds the tuning of the baseline estimator.
type BaselineConfig struct {
	Policy   BaselinePolicy
	Capacity int     // samples kept in history, oldest evicted first
	MinFill  int     // samples required before the history is trusted
	Default  float64 // baseline reported until MinFill is reached
	Decay    float64 // EMA weight of the previous baseline
}

// BaselineEstimator maintains a rolling estimate of ambient loudness.
// It is not safe for concurrent use; a session loop owns it.
type BaselineEstimator struct {
	cfg     BaselineConfig
	history []types.LoudnessSample
	current float64
}

// NewBaselineEstimator creates an estimator reporting cfg.Default until filled.
func NewBaselineEstimator(cfg BaselineConfig) *BaselineEstimator {
	cfg.Capacity = max(cfg.Capacity, 1)
	cfg.MinFill = min(max(cfg.MinFill, 1), cfg.Capacity)
	return &BaselineEstimator{
		cfg:     cfg,
		history: make([]types.LoudnessSample, 0, cfg.Capacity),
		current: cfg.Default,
	}
}

// Add appends a sample, evicting the oldest on overflow, and returns the recomputed baseline.
func (b *BaselineEstimator) Add(s types.LoudnessSample) float64 {
	if len(b.history) == b.cfg.Capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, s)
	b.current = b.compute()
	return b.current
}

// Current returns the baseline derived from the present history.
func (b *BaselineEstimator) Current() float64 {
	return b.current
}

// Len returns the number of samples in history.
func (b *BaselineEstimator) Len() int {
	return len(b.history)
}

// Reset empties the history.
func (b *BaselineEstimator) Reset() {
	b.history = b.history[:0]
	b.current = b.cfg.Default
}

// compute derives the baseline from history alone.
func (b *BaselineEstimator) compute() float64 {
	if len(b.history) < b.cfg.MinFill {
		return b.cfg.Default
	}
	if b.cfg.Policy == BaselineEMA {
		return b.ema()
	}
	return b.median()
}

func (b *BaselineEstimator) median() float64 {
	values := make([]float64, len(b.history))
	for i, s := range b.history {
		values[i] = s.Value
	}
	slices.Sort(values)

	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

func (b *BaselineEstimator) ema() float64 {
	baseline := b.cfg.Default
	for _, s := range b.history {
		baseline = baseline*b.cfg.Decay + s.Value*(1-b.cfg.Decay)
	}
	return baseline
}
