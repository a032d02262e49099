// Package audio provides loudness feature extraction, baseline estimation and spike detection.
package audio

import (
	"math"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

// MaxMagnitude is the largest value a frequency bin of a byte snapshot can hold.
const MaxMagnitude = 255.0

// FeatureMode selects how a snapshot is reduced to one loudness value.
type FeatureMode string

const (
	// FeatureRMS is the root mean square of normalized magnitudes.
	FeatureRMS FeatureMode = "rms"
	// FeatureMean is the mean of normalized magnitudes.
	FeatureMean FeatureMode = "mean"
)

// Extract reduces a frequency-magnitude snapshot to one loudness sample in [0,1].
// It reports false for an empty snapshot.
func Extract(bins []uint8, mode FeatureMode, ts time.Time) (types.LoudnessSample, bool) {
	if len(bins) == 0 {
		return types.LoudnessSample{}, false
	}

	var sum float64
	for _, b := range bins {
		v := float64(b) / MaxMagnitude
		if mode == FeatureMean {
			sum += v
		} else {
			sum += v * v
		}
	}

	value := sum / float64(len(bins))
	if mode != FeatureMean {
		value = math.Sqrt(value)
	}

	return types.LoudnessSample{Value: min(max(value, 0), 1), Timestamp: ts}, true
}
