package git

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTask(t *testing.T) {
	t.Parallel()

	task := Go(t.Context(), func(context.Context) (int, error) { return 42, nil })
	got, err := task.Wait(t.Context())
	if err != nil || got != 42 {
		t.Fatalf("Wait() = %d, %v, want 42", got, err)
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("Done() not closed after Wait returned")
	}
}

func TestTask_Cancel(t *testing.T) {
	t.Parallel()

	task := Go(t.Context(), func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	task.Cancel()
	if _, err := task.Wait(t.Context()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestTask_WaitTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	task := Go(t.Context(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if _, err := task.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTask_Panic(t *testing.T) {
	t.Parallel()

	task := Go(t.Context(), func(context.Context) (int, error) { panic("boom") })
	if _, err := task.Wait(t.Context()); err == nil {
		t.Fatal("Wait() error = nil, want panic error")
	}
}
