// Package queue bridges any number of producer goroutines to a single
// rate-limited consumer, coalescing repeated values.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tunez/presence/internal/ratelimit"
)

// Options configures a Queue.
type Options struct {
	// Capacity is the number of pending items kept before the oldest is
	// dropped. Zero means 1: only the latest state is delivered.
	Capacity int
	Logger   *slog.Logger
}

// Queue is a bounded last-value queue.
//
// Put never waits for the consumer. A Put equal to the newest pending item,
// or to the last delivered item when nothing is pending, is dropped. When the
// queue is full the oldest pending item is replaced.
//
// Get waits for an item inside a rate-limited scope, so deliveries never
// exceed the limiter's quota.
type Queue[T any] struct {
	limiter *ratelimit.Limiter
	equal   func(a, b T) bool
	opts    Options

	mu      sync.Mutex
	items   []T
	last    T // last delivered; starts as the zero value
	dropped uint64

	ready chan struct{}
}

// New creates a queue. limiter may be nil for unlimited delivery.
func New[T any](limiter *ratelimit.Limiter, equal func(a, b T) bool, opts Options) *Queue[T] {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue[T]{
		limiter: limiter,
		equal:   equal,
		opts:    opts,
		items:   make([]T, 0, opts.Capacity),
		ready:   make(chan struct{}, 1),
	}
}

// Put enqueues item unless it repeats the most recent value. It reports
// whether the item was accepted. Safe for concurrent use.
func (q *Queue[T]) Put(item T) bool {
	q.mu.Lock()
	if q.equal(item, q.lastLocked()) {
		q.mu.Unlock()
		return false
	}
	if len(q.items) == q.opts.Capacity {
		q.items = append(q.items[:0], q.items[1:]...)
		q.dropped++
		q.opts.Logger.Debug("queue full, replaced oldest pending item", slog.Int("capacity", q.opts.Capacity))
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	// Coalesce wakeups; Get re-checks the slot after every signal.
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Get waits for the next item. It returns ctx.Err() if ctx is done first, in
// which case no item is consumed and no rate-limit permit is used.
// Get is meant for a single consumer.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var out T
	take := func(ctx context.Context) error {
		for {
			item, ok, err := q.pop(ctx)
			if err != nil {
				return err
			}
			if ok {
				out = item
				return nil
			}
			select {
			case <-q.ready:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	var err error
	if q.limiter != nil {
		err = q.limiter.Do(ctx, take)
	} else {
		err = take(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many pending items were replaced before delivery.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// pop takes the oldest pending item. ctx is checked under the lock so a
// cancelled Get never consumes an item.
func (q *Queue[T]) pop(ctx context.Context) (T, bool, error) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if len(q.items) == 0 {
		return zero, false, nil
	}
	item := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	q.last = item
	return item, true, nil
}

func (q *Queue[T]) lastLocked() T {
	if n := len(q.items); n > 0 {
		return q.items[n-1]
	}
	return q.last
}
