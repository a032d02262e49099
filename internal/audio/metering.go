package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
const MaxSampleValue = 32768.0

// ExtractPCM reduces a block of S16LE PCM to one loudness sample in [0,1].
// Players that cannot produce frequency snapshots send raw PCM instead.
// It reports false when buf holds no complete sample.
func ExtractPCM(buf []byte, mode FeatureMode, ts time.Time) (types.LoudnessSample, bool) {
	n := len(buf) / 2
	if n == 0 {
		return types.LoudnessSample{}, false
	}

	var sum float64
	for i := 0; i+1 < len(buf); i += 2 {
		v := math.Abs(float64(int16(binary.LittleEndian.Uint16(buf[i:])))) / MaxSampleValue
		if mode == FeatureMean {
			sum += v
		} else {
			sum += v * v
		}
	}

	value := sum / float64(n)
	if mode != FeatureMean {
		value = math.Sqrt(value)
	}
	return types.LoudnessSample{Value: min(max(value, 0), 1), Timestamp: ts}, true
}
