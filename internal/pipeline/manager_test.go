package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oszuidwest/crest/internal/types"
)

func inline(fn func()) error {
	fn()
	return nil
}

func TestManagerAggregatesStats(t *testing.T) {
	m := NewManager()
	a := newHarness()
	b := newHarness(func(o *Options, _ *harness) { o.ID = "session-2" })
	m.Register(a.session, inline)
	m.Register(b.session, inline)

	for _, h := range []*harness{a, b} {
		h.session.HandleMedia(true, 1.0, true)
		h.session.HandleCaption("explosion")
	}
	b.clock.Advance(time.Second)
	b.session.HandleVolumeChanged(0.7)

	st := m.Stats()
	if st.TotalAdjustments != 2 || st.UserCorrections != 1 || st.Accuracy != 0.5 {
		t.Errorf("Stats() = %+v", st)
	}

	statuses := m.Statuses()
	if len(statuses) != 2 || statuses[0].ID != "session-1" || statuses[1].ID != "session-2" {
		t.Fatalf("Statuses() = %+v", statuses)
	}
	if len(m.Levels()) != 2 {
		t.Errorf("Levels() has %d entries, want 2", len(m.Levels()))
	}

	m.Unregister("session-2")
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if st := m.Stats(); st.TotalAdjustments != 2 || st.UserCorrections != 1 {
		t.Errorf("stats of ended session lost: %+v", st)
	}
}

func TestManagerTestDuck(t *testing.T) {
	m := NewManager()
	h := newHarness()
	m.Register(h.session, inline)
	h.session.HandleMedia(true, 0.8, true)

	if err := m.TestDuck(context.Background(), "missing", 0.3, time.Second); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("TestDuck(missing) = %v, want ErrSessionNotFound", err)
	}
	if err := m.TestDuck(context.Background(), "session-1", 0.3, time.Second); err != nil {
		t.Fatalf("TestDuck() error = %v", err)
	}
	if h.session.Status().State != types.DuckDucking {
		t.Error("session not ducked")
	}
}

func TestManagerUpdateSettings(t *testing.T) {
	m := NewManager()
	h := newHarness()
	m.Register(h.session, inline)

	next := DefaultSettings()
	next.DefaultDuration = 7 * time.Second
	m.UpdateSettings(next)
	h.session.Navigate("https://example.com")

	if h.session.settings.DefaultDuration != 7*time.Second {
		t.Errorf("DefaultDuration = %v, want 7s", h.session.settings.DefaultDuration)
	}
}
