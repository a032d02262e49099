package sched

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by explicit Advance calls.
// It is not safe for concurrent use.
type Manual struct {
	now     time.Time
	seq     int
	pending []*manualTask
}

// NewManual returns a Manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the scheduler's current time.
func (m *Manual) Now() time.Time {
	return m.now
}

// After schedules fn to run once the clock has advanced by d.
func (m *Manual) After(d time.Duration, fn func()) Task {
	m.seq++
	t := &manualTask{due: m.now.Add(max(d, 0)), seq: m.seq, fn: fn}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d, running every task that becomes due
// in due order. Tasks scheduled by running tasks are honored when due.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		if next.due.After(m.now) {
			m.now = next.due
		}
		next.done = true
		next.fn()
	}
	m.now = target
}

// Pending returns the number of tasks that have neither run nor been cancelled.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.pending {
		if !t.done {
			n++
		}
	}
	return n
}

// nextDue pops the earliest runnable task due at or before target.
func (m *Manual) nextDue(target time.Time) *manualTask {
	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.done {
			live = append(live, t)
		}
	}
	m.pending = live
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].due.Equal(m.pending[j].due) {
			return m.pending[i].seq < m.pending[j].seq
		}
		return m.pending[i].due.Before(m.pending[j].due)
	})
	if len(m.pending) == 0 || m.pending[0].due.After(target) {
		return nil
	}
	return m.pending[0]
}

type manualTask struct {
	due  time.Time
	seq  int
	fn   func()
	done bool
}

// Cancel implements Task.
func (t *manualTask) Cancel() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}
