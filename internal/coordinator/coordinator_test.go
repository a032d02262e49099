package coordinator

import (
	"testing"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

var epoch = time.Unix(1_700_000_000, 0)

func detection(src types.Source, conf float64, atMs int) types.DetectionEvent {
	return types.DetectionEvent{
		Source:     src,
		Confidence: conf,
		Timestamp:  epoch.Add(time.Duration(atMs) * time.Millisecond),
	}
}

func newTestCoordinator() *Coordinator {
	return New(Config{Window: DefaultWindow, Margin: DefaultMargin})
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name   string
		events []types.DetectionEvent
		want   []bool
	}{
		{
			name: "higher confidence subtitle overrides audio",
			events: []types.DetectionEvent{
				detection(types.SourceAudio, 0.6, 0),
				detection(types.SourceSubtitle, 0.9, 500),
			},
			want: []bool{true, true},
		},
		{
			name: "audio inside margin of subtitle is rejected",
			events: []types.DetectionEvent{
				detection(types.SourceSubtitle, 0.5, 0),
				detection(types.SourceAudio, 0.55, 500),
			},
			want: []bool{true, false},
		},
		{
			name: "equal margin is rejected",
			events: []types.DetectionEvent{
				detection(types.SourceSubtitle, 0.5, 0),
				detection(types.SourceAudio, 0.5, 100),
			},
			want: []bool{true, false},
		},
		{
			name: "outside window admits unconditionally",
			events: []types.DetectionEvent{
				detection(types.SourceSubtitle, 0.9, 0),
				detection(types.SourceAudio, 0.2, 2000),
			},
			want: []bool{true, true},
		},
		{
			name: "same source never conflicts",
			events: []types.DetectionEvent{
				detection(types.SourceAudio, 0.9, 0),
				detection(types.SourceAudio, 0.1, 100),
			},
			want: []bool{true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator()
			for i, ev := range tt.events {
				got := c.Admit(ev)
				if got.Admitted != tt.want[i] {
					t.Fatalf("event %d: Admitted = %v, want %v", i, got.Admitted, tt.want[i])
				}
			}
		})
	}
}

func TestAdmitReportsConflict(t *testing.T) {
	c := newTestCoordinator()
	c.Admit(detection(types.SourceSubtitle, 0.5, 0))
	d := c.Admit(detection(types.SourceAudio, 0.55, 500))
	if d.Conflict != types.SourceSubtitle || d.ConflictConfidence != 0.5 {
		t.Errorf("conflict = %q/%v, want subtitle/0.5", d.Conflict, d.ConflictConfidence)
	}
}

func TestRejectedEventIsNotRecorded(t *testing.T) {
	c := newTestCoordinator()
	c.Admit(detection(types.SourceSubtitle, 0.8, 0))
	c.Admit(detection(types.SourceAudio, 0.3, 100))

	if _, ok := c.Live(types.SourceAudio, epoch.Add(200*time.Millisecond)); ok {
		t.Error("rejected audio detection left a ledger entry")
	}
	if conf, ok := c.Live(types.SourceSubtitle, epoch.Add(200*time.Millisecond)); !ok || conf != 0.8 {
		t.Errorf("subtitle entry = %v/%v, want 0.8/true", conf, ok)
	}
}

func TestAdmittedChallengerReplacesHolder(t *testing.T) {
	c := newTestCoordinator()
	c.Admit(detection(types.SourceAudio, 0.6, 0))
	c.Admit(detection(types.SourceSubtitle, 0.9, 500))

	if c.Len() != 1 {
		t.Fatalf("ledger holds %d entries, want 1", c.Len())
	}
	if _, ok := c.Live(types.SourceAudio, epoch.Add(600*time.Millisecond)); ok {
		t.Error("yielded audio claim still live")
	}

	// A later audio detection now has to beat the subtitle claim.
	if c.Admit(detection(types.SourceAudio, 0.95, 800)).Admitted {
		t.Error("audio 0.95 admitted against subtitle 0.9 within margin")
	}
}

func TestPruneOnInsert(t *testing.T) {
	c := newTestCoordinator()
	c.Admit(detection(types.SourceAudio, 0.9, 0))
	c.Admit(detection(types.SourceSubtitle, 0.5, 5000))
	if c.Len() != 1 {
		t.Errorf("ledger holds %d entries after prune, want 1", c.Len())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("ledger holds %d entries after Reset", c.Len())
	}
}
