package git

import (
	"context"
	"fmt"
	"log/slog"
)

// Task is an engine call running in the background.
type Task[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// Go runs fn in a new goroutine with a context derived from ctx. A panic in
// fn is reported as the task error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task panicked", slog.Any("panic", r))
				t.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		t.val, t.err = fn(ctx)
	}()
	return t
}

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Cancel asks the task to stop by cancelling its context.
func (t *Task[T]) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx is done. Giving up on a task
// does not cancel it.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
