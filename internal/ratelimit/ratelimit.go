// Package ratelimit provides sliding-window admission control.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most quota scoped acquisitions per interval.
//
// The window holds the expiration instants of recently recorded permits,
// oldest first. Acquisitions are serialized: a second caller only makes its
// decision after the first has left its scope.
type Limiter struct {
	quota    int
	interval time.Duration

	sem chan struct{}

	mu     sync.Mutex
	window []time.Time

	now func() time.Time
}

// New returns a Limiter allowing quota acquisitions per interval.
// It panics if quota < 1 or interval <= 0.
func New(quota int, interval time.Duration) *Limiter {
	if quota < 1 {
		panic("ratelimit: quota must be at least 1")
	}
	if interval <= 0 {
		panic("ratelimit: interval must be positive")
	}
	return &Limiter{
		quota:    quota,
		interval: interval,
		sem:      make(chan struct{}, 1),
		window:   make([]time.Time, 0, quota),
		now:      time.Now,
	}
}

// Quota returns the number of permits per interval.
func (l *Limiter) Quota() int { return l.quota }

// Interval returns the window length.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Do runs fn inside a rate-limited scope. Entering the scope may block until
// a permit is available. A permit is recorded only when fn returns nil; an
// error or a panic from fn leaves the window untouched.
//
// If ctx is done before the scope is entered, Do returns ctx.Err() without
// running fn.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	if err := l.enter(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	l.window = append(l.window, l.now().Add(l.interval))
	l.mu.Unlock()
	return nil
}

// Used returns how many unexpired permits are currently recorded. It does not
// wait for an acquisition in progress.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.window)
}

// enter leaves the window strictly under quota. Must hold sem.
func (l *Limiter) enter(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	l.prune(now)
	if len(l.window) < l.quota {
		l.mu.Unlock()
		return nil
	}
	wait := l.window[0].Sub(now)
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Used may have pruned the oldest instant while we slept.
	l.mu.Lock()
	l.prune(l.now())
	if len(l.window) >= l.quota {
		l.window = append(l.window[:0], l.window[1:]...)
	}
	l.mu.Unlock()
	return nil
}

// prune drops expired instants. Must hold mu.
func (l *Limiter) prune(now time.Time) {
	n := 0
	for n < len(l.window) && !l.window[n].After(now) {
		n++
	}
	if n > 0 {
		l.window = append(l.window[:0], l.window[n:]...)
	}
}
