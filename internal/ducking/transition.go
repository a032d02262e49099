package ducking

import (
	"time"

	"github.com/oszuidwest/crest/internal/sched"
)

// Ease maps linear progress p in [0,1] onto a quadratic ease-in-out curve.
func Ease(p float64) float64 {
	p = min(max(p, 0), 1)
	if p < 0.5 {
		return 2 * p * p
	}
	return 1 - 2*(1-p)*(1-p)
}

// transition animates the volume between two levels in scheduled frames.
type transition struct {
	from, to float64
	start    time.Time
	duration time.Duration
	frame    time.Duration
	task     sched.Task
	write    func(float64)
	done     func()
}

// level returns the eased volume at time now.
func (t *transition) level(now time.Time) (float64, bool) {
	if t.duration <= 0 {
		return t.to, true
	}
	p := float64(now.Sub(t.start)) / float64(t.duration)
	if p >= 1 {
		return t.to, true
	}
	return t.from + (t.to-t.from)*Ease(p), false
}

// run schedules the next frame, never overshooting the end of the transition.
func (t *transition) run(s sched.Scheduler) {
	remaining := t.duration - s.Now().Sub(t.start)
	if remaining <= 0 {
		t.step(s)
		return
	}
	t.task = s.After(min(t.frame, remaining), func() { t.step(s) })
}

func (t *transition) step(s sched.Scheduler) {
	v, finished := t.level(s.Now())
	t.write(v)
	if finished {
		t.task = nil
		t.done()
		return
	}
	t.run(s)
}

// cancel stops pending frames without writing the final level.
func (t *transition) cancel() {
	if t.task != nil {
		t.task.Cancel()
		t.task = nil
	}
}
