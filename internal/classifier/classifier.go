// Package classifier asks an external scoring service whether caption text
// or audio features describe a loud event.
package classifier

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by classifiers.
var (
	// ErrUnreachable means the service could not be reached or answered with a failure status.
	ErrUnreachable = errors.New("classifier unreachable")
	// ErrMalformedResponse means the service answered with a payload that could not be interpreted.
	ErrMalformedResponse = errors.New("malformed classifier response")
)

// Wire actions.
const (
	ActionLowerVolume = "LOWER_VOLUME"
	ActionNone        = "NONE"
)

// DefaultConfidence is assumed when the service omits a numeric confidence.
const DefaultConfidence = 0.8

// Verdict is the interpreted answer of a classifier.
// Level and Duration are zero when the service left them to the caller.
type Verdict struct {
	Lower      bool
	Level      float64
	Duration   time.Duration
	Confidence float64
}

// AudioFeatures is the audio payload sent for confirmation.
type AudioFeatures struct {
	Volume    float64
	Baseline  float64
	Spike     float64
	Timestamp time.Time
}

// Classifier scores captions and audio features.
type Classifier interface {
	ClassifyText(ctx context.Context, text string) (Verdict, error)
	ClassifyAudio(ctx context.Context, f AudioFeatures) (Verdict, error)
}

// FeedbackReporter is implemented by classifiers that accept user corrections.
type FeedbackReporter interface {
	ReportCorrection(ctx context.Context) error
}
