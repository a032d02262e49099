package classifier

import (
	"context"
	"strings"
	"time"
)

// loudKeywords are the caption fragments the local classifier treats as loud.
var loudKeywords = []string{
	"[explosion]", "[gunshot]", "[dramatic music]", "[thunder]",
	"[crash]", "[bang]", "[boom]", "[screaming]", "[shouting]",
	"explosion", "gunshot", "thunder", "crash", "bang", "boom",
}

// Local verdict parameters.
const (
	localTextLevel     = 0.3
	localTextDuration  = 5000 * time.Millisecond
	localAudioLevel    = 0.25
	localAudioDuration = 3000 * time.Millisecond

	localAudioSpike      = 0.4
	localAudioComboSpike = 0.25
	localAudioComboLevel = 0.6
)

// Local is an in-process classifier using keyword matching for captions
// and a fixed heuristic for audio. It is used when no service URL is configured.
type Local struct{}

// ClassifyText implements Classifier.
func (Local) ClassifyText(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range loudKeywords {
		if strings.Contains(lower, kw) {
			return Verdict{
				Lower:      true,
				Level:      localTextLevel,
				Duration:   localTextDuration,
				Confidence: DefaultConfidence,
			}, nil
		}
	}
	return Verdict{}, nil
}

// ClassifyAudio implements Classifier.
func (Local) ClassifyAudio(ctx context.Context, f AudioFeatures) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if f.Spike > localAudioSpike || (f.Spike > localAudioComboSpike && f.Volume > localAudioComboLevel) {
		return Verdict{
			Lower:      true,
			Level:      localAudioLevel,
			Duration:   localAudioDuration,
			Confidence: DefaultConfidence,
		}, nil
	}
	return Verdict{}, nil
}
