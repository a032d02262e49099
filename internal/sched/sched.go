// Package sched provides the single-threaded scheduling model of a player session.
// Every callback of a session runs to completion on one loop; timers post
// back onto that loop instead of running on their own goroutines.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopStopped is returned when posting to a loop that has finished.
var ErrLoopStopped = errors.New("loop stopped")

// Task is a handle to a scheduled callback.
type Task interface {
	// Cancel prevents the callback from running and reports whether it was still pending.
	Cancel() bool
}

// Scheduler supplies time and delayed execution to components.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Task
}

// Loop executes posted functions one at a time in arrival order.
// Post and After are safe for concurrent use; the functions themselves
// always run on the goroutine that called Run.
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

// NewLoop returns a Loop with the given queue capacity.
func NewLoop(capacity int) *Loop {
	return &Loop{
		tasks: make(chan func(), capacity),
		done:  make(chan struct{}),
	}
}

// Now returns the wall clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn for execution on the loop. It blocks while the queue is full.
func (l *Loop) Post(fn func()) error {
	if l.stopped.Load() {
		return ErrLoopStopped
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// After schedules fn to run on the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Task {
	t := &loopTask{}
	t.timer = time.AfterFunc(d, func() {
		if t.cancelled.Load() {
			return
		}
		if err := l.Post(func() {
			// The task may have been cancelled while queued.
			if t.cancelled.CompareAndSwap(false, true) {
				fn()
			}
		}); err != nil {
			slog.Debug("dropped timer callback", "error", err)
		}
	})
	return t
}

// Run executes queued functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() {
		l.stopped.Store(true)
		close(l.done)
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.execute(fn)
		}
	}
}

// Done returns a channel that is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// execute runs fn and keeps the loop alive if it panics.
func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in session loop", "panic", r)
		}
	}()
	fn()
}

// loopTask is a Task backed by a runtime timer.
type loopTask struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Cancel implements Task.
func (t *loopTask) Cancel() bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	t.timer.Stop()
	return true
}
