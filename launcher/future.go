package launcher

import "context"

// future is a single-assignment result shared by every waiter.
type future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve must be called exactly once.
func (f *future[T]) resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// wait blocks until the future resolves or ctx is done. A cancelled waiter
// does not affect the shared work.
func (f *future[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// result returns the outcome without blocking; ok is false while pending.
func (f *future[T]) result() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
