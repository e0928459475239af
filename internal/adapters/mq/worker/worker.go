// Package worker runs batches of independent tasks on a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/okian/insights/internal/adapters/mq/queue"
	"github.com/okian/insights/pkg/logger"
	"github.com/okian/insights/pkg/metrics"
)

const defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()

// Task is one unit of a batch.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result is the outcome of a task. Results keep the order of their tasks.
type Result[T any] struct {
	Name     string
	Value    T
	Err      error
	Duration time.Duration
}

// Pool fans a batch out over a fixed number of workers and joins the results.
type Pool[T any] struct {
	size    int
	timeout time.Duration
	name    string
	logger  logger.Logger
}

type job[T any] struct {
	index int
	task  Task[T]
}

// NewPool creates a pool. The default size is runtime.NumCPU()*2 and tasks
// are unbounded unless WithTaskTimeout is given.
func NewPool[T any](opts ...Option) *Pool[T] {
	s := settings{
		size: runtime.NumCPU() * defaultWorkerMultiplier,
		name: "worker-pool",
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named(s.name)
	}
	return &Pool[T]{size: s.size, timeout: s.timeout, name: s.name, logger: s.logger}
}

// Size returns the worker count.
func (p *Pool[T]) Size() int { return p.size }

// Run executes tasks and blocks until every task finished, failed or timed
// out. A failing, panicking or hanging task never affects the others.
func (p *Pool[T]) Run(ctx context.Context, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	ran := make([]bool, len(tasks))

	q := queue.NewInMemoryQueue[job[T]](queue.WithCapacity(len(tasks)), queue.WithName(p.name+"-queue"))
	for i, t := range tasks {
		if err := q.Enqueue(ctx, job[T]{index: i, task: t}); err != nil {
			p.logger.Warn(ctx, "task not enqueued", logger.String("task", t.Name), logger.Error(err))
		}
	}
	_ = q.Close()

	workers := min(p.size, len(tasks))
	jobs := q.Dequeue(ctx)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.AddWorkerActive(1)
			defer metrics.AddWorkerActive(-1)
			for j := range jobs {
				results[j.index] = p.execute(ctx, j.task)
				ran[j.index] = true
			}
		}()
	}
	wg.Wait()

	for i, t := range tasks {
		if ran[i] {
			continue
		}
		err := ErrNotRun
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("%w: %w", ErrNotRun, cerr)
		}
		results[i] = Result[T]{Name: t.Name, Err: err}
	}
	return results
}

// Do executes a single task under the pool's timeout and panic guard.
func (p *Pool[T]) Do(ctx context.Context, task Task[T]) Result[T] {
	return p.execute(ctx, task)
}

func (p *Pool[T]) execute(ctx context.Context, task Task[T]) Result[T] {
	start := time.Now()
	res := p.guard(ctx, task)
	res.Name = task.Name
	res.Duration = time.Since(start)
	metrics.RecordWorkerProcessingLatency(float64(res.Duration.Microseconds()) / 1000)

	if res.Err != nil {
		metrics.RecordWorkerError()
		switch {
		case errors.Is(res.Err, ErrTimeout):
			metrics.RecordErrorByComponent("worker", "timeout")
		case errors.Is(res.Err, ErrPanic):
			metrics.RecordErrorByComponent("worker", "panic")
		default:
			metrics.RecordErrorByComponent("worker", "task_error")
		}
	}
	return res
}

// guard runs the task in its own goroutine so a task that ignores its
// context still releases the worker when the deadline passes.
func (p *Pool[T]) guard(ctx context.Context, task Task[T]) Result[T] {
	tctx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	done := make(chan Result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error(ctx, "task panicked",
					logger.String("task", task.Name),
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())),
				)
				done <- Result[T]{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := task.Run(tctx)
		done <- Result[T]{Value: v, Err: err}
	}()

	select {
	case res := <-done:
		if res.Err != nil && p.timedOut(ctx, tctx) {
			res.Err = fmt.Errorf("%w after %s: %w", ErrTimeout, p.timeout, res.Err)
		}
		return res
	case <-tctx.Done():
		if p.timedOut(ctx, tctx) {
			p.logger.Warn(ctx, "task timed out", logger.String("task", task.Name), logger.Duration("timeout", p.timeout))
			return Result[T]{Err: fmt.Errorf("%w after %s", ErrTimeout, p.timeout)}
		}
		return Result[T]{Err: ctx.Err()}
	}
}

// timedOut reports whether the task's own deadline fired while the parent is live.
func (p *Pool[T]) timedOut(parent, tctx context.Context) bool {
	return p.timeout > 0 && parent.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded)
}
