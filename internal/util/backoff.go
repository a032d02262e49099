package util

import (
	"context"
	"time"
)

// Backoff yields exponentially growing delays capped at Max.
// The zero value is not useful; set Initial and Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// Next returns the delay before the next attempt and doubles it for the one after.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Initial
	}
	d := b.next
	b.next = min(b.next*2, b.Max)
	return d
}

// Retry calls fn up to attempts times, waiting b.Next() between failures.
// It returns the last error, or the context's cause when ctx ends first.
func Retry(ctx context.Context, attempts int, b Backoff, fn func() error) error {
	attempts = max(attempts, 1)
	var err error
	for attempt := range attempts {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(b.Next())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		}
	}
	return err
}
