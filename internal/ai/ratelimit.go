package ai

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller's bounded wait for a call slot
// expires. Treated as retryable by the pipeline.
var ErrRateLimited = errors.New("ai: rate limit exceeded")

// Limiter enforces the service's hard call ceiling with a sliding window.
// One Limiter is shared across every call type so classification and
// document analysis draw from the same budget.
type Limiter struct {
	mu     sync.Mutex
	calls  []time.Time
	limit  int
	window time.Duration
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{limit: limit, window: window}
}

func (l *Limiter) prune(now time.Time) {
	windowStart := now.Add(-l.window)
	n := 0
	for _, t := range l.calls {
		if t.After(windowStart) {
			l.calls[n] = t
			n++
		}
	}
	l.calls = l.calls[:n]
}

// tryAcquire takes a slot if one is free and otherwise reports how long
// until the oldest call leaves the window.
func (l *Limiter) tryAcquire(now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		return true, 0
	}
	return false, l.calls[0].Add(l.window).Sub(now)
}

// Acquire blocks until a call slot frees or ctx expires. A caller that
// cannot get a slot in time gets ErrRateLimited, never a silent drop.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		ok, wait := l.tryAcquire(time.Now())
		if ok {
			return nil
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrRateLimited
		case <-timer.C:
		}
	}
}

// Available reports how many slots are currently free
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return l.limit - len(l.calls)
}
