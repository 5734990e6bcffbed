package session

import "context"

// Pending is the handle of an operation running in the background.
type Pending[T any] struct {
	done    chan struct{}
	val     T
	err     error
	abandon func(error) error
}

func resolved[T any](v T, err error) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{}), val: v, err: err}
	close(p.done)
	return p
}

// launch dispatches body with ctx's values but not its cancellation: once
// started, an operation runs to completion and applies its result even when
// every waiter has gone away.
func launch[T any](ctx context.Context, s *Session, op string, body func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(p.done)
		p.val, p.err = observe(detached, s, op, body)
	}()
	return p
}

// Done is closed when the operation has finished.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the operation finishes or ctx is done. Abandoning the
// wait does not stop the operation.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	default:
	}
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		if p.abandon != nil {
			return zero, p.abandon(ctx.Err())
		}
		return zero, ctx.Err()
	}
}
