// Package task runs long operations as cancellable units of work with a
// future-like handle.
package task

import "context"

// Task is a handle to a function running in its own goroutine.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	result T
	err    error
}

// Go starts fn in a new goroutine and returns a handle to it. The function
// receives a context derived from ctx that Cancel aborts.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.result, t.err = fn(ctx)
	}()
	return t
}

// Wait blocks until the task finishes and returns its result. It is safe to
// call from multiple goroutines and returns the same values every time.
func (t *Task[T]) Wait() (T, error) {
	<-t.done
	return t.result, t.err
}

// Cancel signals the task's context. The function decides when to honor it;
// Wait still reports whatever it ultimately returns.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Done is closed once the task has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}
