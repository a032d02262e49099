// Package feedback turns user volume corrections into an accuracy signal.
package feedback

import (
	"sync"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

// Tracker counts applied adjustments and user corrections.
// It is safe for concurrent use so dashboards can read it off the session loop.
type Tracker struct {
	mu    sync.RWMutex
	stats types.Stats
}

// NewTracker returns a Tracker whose session starts at start.
func NewTracker(start time.Time) *Tracker {
	return &Tracker{stats: types.Stats{SessionStart: start, Accuracy: 1}}
}

// Accuracy computes max(0, (total-corrections)/total), or 1 with no adjustments.
func Accuracy(total, corrections int) float64 {
	if total <= 0 {
		return 1
	}
	return max(0, float64(total-corrections)/float64(total))
}

// RecordAdjustment counts a completed adjustment triggered by src.
func (t *Tracker) RecordAdjustment(src types.Source, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.TotalAdjustments++
	switch src {
	case types.SourceSubtitle:
		t.stats.SubtitleDetections++
	case types.SourceAudio:
		t.stats.AudioDetections++
	}
	t.stats.LastActionTime = at
	t.recompute()
}

// RecordCorrection counts a volume change the user made on their own.
func (t *Tracker) RecordCorrection(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.UserCorrections++
	t.stats.LastActionTime = at
	t.recompute()
}

// Stats returns a copy of the current counters.
func (t *Tracker) Stats() types.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

func (t *Tracker) recompute() {
	t.stats.Accuracy = Accuracy(t.stats.TotalAdjustments, t.stats.UserCorrections)
}

// Merge sums the counters of several sessions into one summary.
func Merge(all ...types.Stats) types.Stats {
	var out types.Stats
	for _, s := range all {
		out.TotalAdjustments += s.TotalAdjustments
		out.UserCorrections += s.UserCorrections
		out.SubtitleDetections += s.SubtitleDetections
		out.AudioDetections += s.AudioDetections
		if s.LastActionTime.After(out.LastActionTime) {
			out.LastActionTime = s.LastActionTime
		}
		if out.SessionStart.IsZero() || (!s.SessionStart.IsZero() && s.SessionStart.Before(out.SessionStart)) {
			out.SessionStart = s.SessionStart
		}
	}
	out.Accuracy = Accuracy(out.TotalAdjustments, out.UserCorrections)
	return out
}
