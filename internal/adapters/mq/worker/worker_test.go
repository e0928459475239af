package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	worker "github.com/okian/insights/internal/adapters/mq/worker"
	logging "github.com/okian/insights/pkg/logger"
)

func init() {
	_ = logging.Init()
}

func value(v int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return v, nil }
}

func TestPool_Run(t *testing.T) {
	convey.Convey("Given a pool of 3 workers with a 50ms task timeout", t, func() {
		pool := worker.NewPool[int](worker.WithSize(3), worker.WithTaskTimeout(50*time.Millisecond), worker.WithName("test-pool"))
		ctx := context.Background()

		convey.Convey("When a batch mixes successes, an error, a panic and a hang", func() {
			boom := errors.New("boom")
			tasks := []worker.Task[int]{
				{Name: "one", Run: value(1)},
				{Name: "fails", Run: func(context.Context) (int, error) { return 0, boom }},
				{Name: "panics", Run: func(context.Context) (int, error) { panic("bad rule") }},
				{Name: "hangs", Run: func(context.Context) (int, error) { select {} }},
				{Name: "two", Run: value(2)},
			}
			start := time.Now()
			results := pool.Run(ctx, tasks)

			convey.Convey("Then every task has a result in task order", func() {
				convey.So(len(results), convey.ShouldEqual, len(tasks))
				for i, r := range results {
					convey.So(r.Name, convey.ShouldEqual, tasks[i].Name)
				}
			})

			convey.Convey("Then failures are isolated and classified", func() {
				convey.So(results[0].Err, convey.ShouldBeNil)
				convey.So(results[0].Value, convey.ShouldEqual, 1)
				convey.So(errors.Is(results[1].Err, boom), convey.ShouldBeTrue)
				convey.So(errors.Is(results[2].Err, worker.ErrPanic), convey.ShouldBeTrue)
				convey.So(results[2].Err.Error(), convey.ShouldContainSubstring, "bad rule")
				convey.So(errors.Is(results[3].Err, worker.ErrTimeout), convey.ShouldBeTrue)
				convey.So(results[4].Value, convey.ShouldEqual, 2)
			})

			convey.Convey("Then the hang does not stall the batch", func() {
				convey.So(time.Since(start), convey.ShouldBeLessThan, 2*time.Second)
			})
		})

		convey.Convey("When a task honours its context deadline", func() {
			results := pool.Run(ctx, []worker.Task[int]{{Name: "polite", Run: func(c context.Context) (int, error) {
				<-c.Done()
				return 0, c.Err()
			}}})

			convey.Convey("Then the failure is reported as a timeout", func() {
				convey.So(errors.Is(results[0].Err, worker.ErrTimeout), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the batch is empty", func() {
			convey.So(pool.Run(ctx, nil), convey.ShouldBeEmpty)
		})
	})

	convey.Convey("Given a pool of 2 and a batch of 10", t, func() {
		pool := worker.NewPool[int](worker.WithSize(2))
		var inFlight, peak atomic.Int32
		tasks := make([]worker.Task[int], 10)
		for i := range tasks {
			i := i
			tasks[i] = worker.Task[int]{Name: fmt.Sprintf("t%d", i), Run: func(context.Context) (int, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return i * i, nil
			}}
		}

		results := pool.Run(context.Background(), tasks)

		convey.Convey("Then concurrency never exceeds the pool size and results stay indexed", func() {
			convey.So(peak.Load(), convey.ShouldBeLessThanOrEqualTo, 2)
			for i, r := range results {
				convey.So(r.Value, convey.ShouldEqual, i*i)
			}
			convey.So(pool.Size(), convey.ShouldEqual, 2)
		})
	})

	convey.Convey("Given a cancelled parent context", t, func() {
		pool := worker.NewPool[int](worker.WithSize(1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := pool.Run(ctx, []worker.Task[int]{{Name: "a", Run: value(1)}, {Name: "b", Run: value(2)}})

		convey.Convey("Then unrun tasks report ErrNotRun", func() {
			for _, r := range results {
				convey.So(errors.Is(r.Err, worker.ErrNotRun) || errors.Is(r.Err, context.Canceled), convey.ShouldBeTrue)
			}
		})
	})
}

func TestPool_Do(t *testing.T) {
	convey.Convey("Given a pool", t, func() {
		pool := worker.NewPool[string](worker.WithTaskTimeout(time.Second))

		convey.Convey("When a single task runs", func() {
			res := pool.Do(context.Background(), worker.Task[string]{Name: "solo", Run: func(context.Context) (string, error) { return "ok", nil }})

			convey.Convey("Then its value and duration are reported", func() {
				convey.So(res.Err, convey.ShouldBeNil)
				convey.So(res.Value, convey.ShouldEqual, "ok")
				convey.So(res.Name, convey.ShouldEqual, "solo")
				convey.So(res.Duration, convey.ShouldBeGreaterThanOrEqualTo, time.Duration(0))
			})
		})
	})
}
