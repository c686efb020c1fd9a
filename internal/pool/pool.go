// Package pool runs a fixed set of workers over a shared task queue.
//
// Usage:
//
//	q := pool.NewQueue(tasks...)
//	err := pool.Run(ctx, q, workers, func(ctx context.Context, t Task) error {
//	    return process(t)
//	}, pool.WithProgress(func(pending int) { reporter.Report(pending) }))
//
// Run aborts on the first failing task: the failure is returned, no worker
// dequeues anything afterwards and tasks already running are allowed to
// finish. Tasks are never retried.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// ErrTaskFailed matches every error returned for a failed task.
var ErrTaskFailed = errors.New("task failed")

// TaskError reports which task failed and why.
type TaskError struct {
	Worker int
	Task   any
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("worker %d: %v: %v", e.Worker, e.Task, e.Err)
}

func (e *TaskError) Unwrap() []error {
	return []error{ErrTaskFailed, e.Err}
}

// Func processes one task.
type Func[T any] func(ctx context.Context, task T) error

type options struct {
	progress func(pending int)
	onWorker func(worker int, processed int)
}

// Option configures Run.
type Option func(*options)

// WithProgress is called before every dequeue with the number of tasks
// still in the queue, the one about to be taken included. It runs under the
// queue lock and must be quick.
func WithProgress(fn func(pending int)) Option {
	return func(o *options) { o.progress = fn }
}

// WithWorkerDone is called when a worker exits with the number of tasks it
// dequeued.
func WithWorkerDone(fn func(worker int, processed int)) Option {
	return func(o *options) { o.onWorker = fn }
}

// Run starts n workers that drain q and blocks until all of them exit.
// n below one is treated as one.
func Run[T any](ctx context.Context, q *Queue[T], n int, fn Func[T], opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if n < 1 {
		n = 1
	}

	q.seal()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < n; w++ {
		g.Go(func() error {
			processed := 0
			defer func() {
				if o.onWorker != nil {
					o.onWorker(w, processed)
				}
			}()

			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				task, ok := q.pop(o.progress)
				if !ok {
					return nil
				}
				processed++

				if err := call(ctx, fn, task); err != nil {
					return &TaskError{Worker: w, Task: task, Err: err}
				}
			}
		})
	}
	return g.Wait()
}

// call runs fn, turning a panic into an error.
func call[T any](ctx context.Context, fn Func[T], task T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, task)
}
