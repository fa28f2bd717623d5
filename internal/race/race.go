// Package race waits on whichever of two operations finishes first.
package race

import (
	"context"
)

// Result is the outcome of one side of Either. Done is false for the side
// that lost the race; its Value and Err must be ignored.
type Result[T any] struct {
	Done  bool
	Value T
	Err   error
}

// Either runs first and second concurrently and returns as soon as one of
// them returns. The other is cancelled through its context before Either
// returns, and whatever it produces afterwards is discarded.
//
// Operations must honour ctx cancellation, otherwise their goroutine lives on
// until they return by themselves.
func Either[A, B any](
	ctx context.Context,
	first func(context.Context) (A, error),
	second func(context.Context) (B, error),
) (Result[A], Result[B]) {
	firstCtx, cancelFirst := context.WithCancel(ctx)
	secondCtx, cancelSecond := context.WithCancel(ctx)
	defer cancelFirst()
	defer cancelSecond()

	firstDone := make(chan Result[A], 1)
	secondDone := make(chan Result[B], 1)
	go func() {
		v, err := first(firstCtx)
		firstDone <- Result[A]{Done: true, Value: v, Err: err}
	}()
	go func() {
		v, err := second(secondCtx)
		secondDone <- Result[B]{Done: true, Value: v, Err: err}
	}()

	select {
	case r := <-firstDone:
		cancelSecond()
		return r, Result[B]{}
	case r := <-secondDone:
		cancelFirst()
		return Result[A]{}, r
	}
}
