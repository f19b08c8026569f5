package analytics

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one deferred upstream call
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the settled result of a Task: exactly one of Value or Err is
// meaningful.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the task succeeded
func (o Outcome[T]) OK() bool { return o.Err == nil }

// RunBatches executes tasks in consecutive batches of size. Tasks inside a
// batch run concurrently; a batch starts only after the previous one fully
// settled. A failing task never affects its neighbours. Outcomes are returned
// in task order.
func RunBatches[T any](ctx context.Context, tasks []Task[T], size int) []Outcome[T] {
	if size <= 0 {
		size = 1
	}

	outcomes := make([]Outcome[T], len(tasks))
	for start := 0; start < len(tasks); start += size {
		end := min(start+size, len(tasks))

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				value, err := tasks[i](ctx)
				outcomes[i] = Outcome[T]{Value: value, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}
