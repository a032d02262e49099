package feedback

import (
	"testing"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		corrections int
		want        float64
	}{
		{"no adjustments is optimistic", 0, 0, 1},
		{"two of ten corrected", 10, 2, 0.8},
		{"all corrected", 4, 4, 0},
		{"more corrections than adjustments", 2, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accuracy(tt.total, tt.corrections); got != tt.want {
				t.Errorf("Accuracy(%d, %d) = %v, want %v", tt.total, tt.corrections, got, tt.want)
			}
		})
	}
}

func TestTracker(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	tr := NewTracker(start)
	if got := tr.Stats().Accuracy; got != 1 {
		t.Fatalf("initial accuracy = %v, want 1", got)
	}

	for i := range 10 {
		src := types.SourceAudio
		if i%2 == 0 {
			src = types.SourceSubtitle
		}
		tr.RecordAdjustment(src, start.Add(time.Duration(i)*time.Second))
	}
	tr.RecordCorrection(start.Add(time.Minute))
	tr.RecordCorrection(start.Add(2 * time.Minute))

	s := tr.Stats()
	if s.TotalAdjustments != 10 || s.UserCorrections != 2 {
		t.Errorf("counters = %d/%d, want 10/2", s.TotalAdjustments, s.UserCorrections)
	}
	if s.Accuracy != 0.8 {
		t.Errorf("accuracy = %v, want 0.8", s.Accuracy)
	}
	if s.SubtitleDetections != 5 || s.AudioDetections != 5 {
		t.Errorf("per-source counts = %d/%d, want 5/5", s.SubtitleDetections, s.AudioDetections)
	}
	if !s.LastActionTime.Equal(start.Add(2 * time.Minute)) {
		t.Errorf("last action = %v", s.LastActionTime)
	}
	if !s.SessionStart.Equal(start) {
		t.Errorf("session start = %v", s.SessionStart)
	}
}

func TestMerge(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)
	got := Merge(
		types.Stats{TotalAdjustments: 6, UserCorrections: 1, SessionStart: late},
		types.Stats{TotalAdjustments: 4, UserCorrections: 1, SessionStart: early, LastActionTime: late},
	)
	if got.TotalAdjustments != 10 || got.Accuracy != 0.8 {
		t.Errorf("merged = %+v", got)
	}
	if !got.SessionStart.Equal(early) || !got.LastActionTime.Equal(late) {
		t.Errorf("merged times = %v/%v", got.SessionStart, got.LastActionTime)
	}
	if Merge().Accuracy != 1 {
		t.Error("empty merge accuracy != 1")
	}
}
