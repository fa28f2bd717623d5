package race

import (
	"context"
	"sync"
)

// Event is a one-shot signal. Once set it stays set.
type Event struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

// NewEvent returns an unset event.
func NewEvent() *Event {
	e := &Event{}
	e.channel()
	return e
}

func (e *Event) channel() chan struct{} {
	e.init.Do(func() { e.ch = make(chan struct{}) })
	return e.ch
}

// Set fires the event. Calling it more than once is a no-op.
func (e *Event) Set() {
	ch := e.channel()
	e.once.Do(func() { close(ch) })
}

// IsSet reports whether Set has been called.
func (e *Event) IsSet() bool {
	select {
	case <-e.channel():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event is set.
func (e *Event) Done() <-chan struct{} { return e.channel() }

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) (struct{}, error) {
	select {
	case <-e.channel():
		return struct{}{}, nil
	case <-ctx.Done():
		return struct{}{}, ctx.Err()
	}
}
