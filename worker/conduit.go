package worker

import "context"

// Conduit delivers exactly one value from the worker to one waiting caller.
// The worker never blocks on it, and a caller that stops waiting simply
// leaves it to the garbage collector.
type Conduit[T any] struct {
	ch chan T
}

// NewConduit creates an empty conduit.
func NewConduit[T any]() *Conduit[T] {
	return &Conduit[T]{ch: make(chan T, 1)}
}

// Send stores v. It reports false if a value had already been sent.
func (c *Conduit[T]) Send(v T) bool {
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Receive waits for the value or for ctx to end, returning the cause of the
// cancellation in that case.
func (c *Conduit[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-c.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}
