package poet

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/metrics"
)

// Task is the handle of an operation running in the background.
type Task[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Start runs fn on a new goroutine and returns its handle. A panic in fn
// is recovered and reported as the task's error.
func Start[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	metrics.InFlight.Inc()
	go func() {
		defer close(t.done)
		defer metrics.InFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in task")
				t.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		t.result, t.err = fn(ctx)
	}()
	return t
}

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its outcome.
func (t *Task[T]) Wait() (T, error) {
	<-t.done
	return t.result, t.err
}

// Result returns the outcome without blocking. ok is false while the task
// is still running.
func (t *Task[T]) Result() (result T, err error, ok bool) {
	select {
	case <-t.done:
		return t.result, t.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
