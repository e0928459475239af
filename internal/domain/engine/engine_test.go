package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/domain/engine"
	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/rules/circles"
	"github.com/okian/insights/internal/domain/types"
	"github.com/okian/insights/pkg/logger"
)

func init() {
	_ = logger.Init()
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

func emit(msg string, t types.InsightType) rules.Evaluator {
	return func(context.Context, *rules.Context, types.Options) ([]types.InsightItem, error) {
		return []types.InsightItem{
			rules.NewItem(t, "test", types.SeverityLow, msg, []types.Audience{types.AudienceAdmin}, nil),
		}, nil
	}
}

func fail(context.Context, *rules.Context, types.Options) ([]types.InsightItem, error) {
	return nil, errBoom
}

func explode(context.Context, *rules.Context, types.Options) ([]types.InsightItem, error) {
	panic("bad rule")
}

func hang(ctx context.Context, _ *rules.Context, _ types.Options) ([]types.InsightItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func none(context.Context, *rules.Context, types.Options) ([]types.InsightItem, error) {
	return nil, nil
}

func fixture() *engine.Engine {
	reg := rules.MustRegistry(
		rules.Descriptor{ID: "A", Name: "first", Trigger: rules.TriggerDaily, Domain: "test", Evaluator: emit("a", types.TypeAlert)},
		rules.Descriptor{ID: "FAIL", Name: "fails", Trigger: rules.TriggerDaily, Domain: "test", Evaluator: fail},
		rules.Descriptor{ID: "B", Name: "second", Trigger: rules.TriggerWeekly, Domain: "test", Evaluator: emit("b", types.TypeForecast)},
		rules.Descriptor{ID: "PANIC", Name: "panics", Trigger: rules.TriggerWeekly, Domain: "other", Evaluator: explode},
		rules.Descriptor{ID: "HANG", Name: "hangs", Trigger: rules.TriggerOnDemand, Domain: "other", Evaluator: hang},
		rules.Descriptor{ID: "NONE", Name: "empty", Trigger: rules.TriggerOnDemand, Domain: "test", Evaluator: none},
	)
	return engine.New(reg, repository.NewMemoryStore(),
		engine.WithWorkers(4),
		engine.WithRuleTimeout(50*time.Millisecond),
		engine.WithClock(func() time.Time { return now }),
	)
}

func ids(infos []rules.Info) []string {
	out := make([]string, len(infos))
	for i, in := range infos {
		out[i] = in.ID
	}
	return out
}

func TestEngine_Batches(t *testing.T) {
	Convey("Given an engine whose registry mixes healthy and broken rules", t, func() {
		e := fixture()
		ctx := context.Background()

		Convey("When the daily trigger runs", func() {
			res := e.RunByTrigger(ctx, rules.TriggerDaily, types.Options{})

			Convey("Then the failing rule is isolated and the healthy one still contributes", func() {
				So(res.RunID, ShouldNotBeEmpty)
				So(res.Mode, ShouldEqual, engine.ModeTrigger)
				So(res.Scope, ShouldEqual, "daily")
				So(res.StartedAt.Equal(now), ShouldBeTrue)
				So(len(res.Outcomes), ShouldEqual, 2)
				So(res.Succeeded(), ShouldEqual, 1)
				So(res.Failed(), ShouldEqual, 1)

				items := res.Items()
				So(len(items), ShouldEqual, 1)
				So(items[0].Message, ShouldEqual, "a")

				failures := res.Failures()
				So(len(failures), ShouldEqual, 1)
				So(failures[0].RuleID, ShouldEqual, "FAIL")
				So(errors.Is(failures[0].Err, errBoom), ShouldBeTrue)
			})
		})

		Convey("When every rule runs", func() {
			start := time.Now()
			res := e.RunAll(ctx, types.Options{})

			Convey("Then panics and hangs are contained and outcomes keep registry order", func() {
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
				So(res.Mode, ShouldEqual, engine.ModeAll)
				So(ids([]rules.Info{
					res.Outcomes[0].Rule, res.Outcomes[1].Rule, res.Outcomes[2].Rule,
					res.Outcomes[3].Rule, res.Outcomes[4].Rule, res.Outcomes[5].Rule,
				}), ShouldResemble, []string{"A", "FAIL", "B", "PANIC", "HANG", "NONE"})
				So(res.Failed(), ShouldEqual, 3)
				So(len(res.Items()), ShouldEqual, 2)

				failed := map[string]string{}
				for _, f := range res.Failures() {
					failed[f.RuleID] = f.Error
				}
				So(failed, ShouldContainKey, "PANIC")
				So(failed, ShouldContainKey, "HANG")
				So(failed["PANIC"], ShouldContainSubstring, "bad rule")
			})
		})

		Convey("When a trigger matches no rules", func() {
			reg := rules.MustRegistry(rules.Descriptor{ID: "A", Trigger: rules.TriggerDaily, Domain: "test", Evaluator: none})
			res := engine.New(reg, repository.NewMemoryStore()).RunByTrigger(ctx, rules.TriggerWeekly, types.Options{})

			Convey("Then the batch is empty but well formed", func() {
				So(res.Outcomes, ShouldBeEmpty)
				So(res.Items(), ShouldNotBeNil)
				So(res.Items(), ShouldBeEmpty)
				So(res.Failures(), ShouldNotBeNil)
				So(res.Failures(), ShouldBeEmpty)
			})
		})

		Convey("When one domain runs", func() {
			res := e.RunDomain(ctx, "test", types.Options{})

			Convey("Then only that domain's rules are evaluated", func() {
				So(res.Mode, ShouldEqual, engine.ModeDomain)
				So(len(res.Outcomes), ShouldEqual, 4)
				So(len(res.Items()), ShouldEqual, 2)
				So(res.Failed(), ShouldEqual, 1)
			})

			Convey("Then an empty domain falls back to the whole registry", func() {
				all := e.RunDomain(ctx, "", types.Options{})
				So(all.Mode, ShouldEqual, engine.ModeAll)
				So(len(all.Outcomes), ShouldEqual, 6)
			})
		})
	})
}

func TestEngine_RunRule(t *testing.T) {
	Convey("Given the same engine", t, func() {
		e := fixture()
		ctx := context.Background()

		Convey("When a healthy rule is run directly", func() {
			items, err := e.RunRule(ctx, "B", types.Options{})

			Convey("Then its items are returned", func() {
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 1)
				So(items[0].Type, ShouldEqual, types.TypeForecast)
			})
		})

		Convey("When a rule without output is run", func() {
			items, err := e.RunRule(ctx, "NONE", types.Options{})

			Convey("Then an empty non-nil list comes back", func() {
				So(err, ShouldBeNil)
				So(items, ShouldNotBeNil)
				So(items, ShouldBeEmpty)
			})
		})

		Convey("When an unknown id is run", func() {
			_, err := e.RunRule(ctx, "NOPE", types.Options{})

			Convey("Then ErrRuleNotFound names the id", func() {
				So(errors.Is(err, engine.ErrRuleNotFound), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "NOPE")
			})
		})

		Convey("When a failing rule is run", func() {
			_, err := e.RunRule(ctx, "FAIL", types.Options{})

			Convey("Then the evaluator error propagates", func() {
				So(errors.Is(err, errBoom), ShouldBeTrue)
				So(errors.Is(err, engine.ErrRuleNotFound), ShouldBeFalse)
			})
		})

		Convey("When a hanging rule is run", func() {
			_, err := e.RunRule(ctx, "HANG", types.Options{})

			Convey("Then it times out", func() {
				So(errors.Is(err, engine.ErrRuleTimeout), ShouldBeTrue)
			})
		})

		Convey("When a panicking rule is run", func() {
			_, err := e.RunRule(ctx, "PANIC", types.Options{})

			Convey("Then the panic becomes an error", func() {
				So(errors.Is(err, engine.ErrRulePanic), ShouldBeTrue)
			})
		})
	})
}

func TestEngine_Introspection(t *testing.T) {
	Convey("Given the same engine", t, func() {
		e := fixture()

		Convey("Then Rules lists every rule in order", func() {
			So(ids(e.Rules()), ShouldResemble, []string{"A", "FAIL", "B", "PANIC", "HANG", "NONE"})
		})

		Convey("Then RulesByTrigger filters by cadence", func() {
			So(ids(e.RulesByTrigger(rules.TriggerWeekly)), ShouldResemble, []string{"B", "PANIC"})
			So(ids(e.RulesByTrigger(rules.TriggerOnDemand)), ShouldResemble, []string{"HANG", "NONE"})
		})

		Convey("Then metadata carries names and domains", func() {
			info := e.Rules()[0]
			So(info.Name, ShouldEqual, "first")
			So(info.Domain, ShouldEqual, "test")
			So(info.Trigger, ShouldEqual, rules.TriggerDaily)
		})
	})
}

// brokenStore panics on circle and submission queries, or blocks circle
// queries until their context ends when hang is set.
type brokenStore struct {
	*repository.MemoryStore
	hang     bool
	released chan struct{}
	once     sync.Once
}

func (s *brokenStore) Circles(ctx context.Context, _ model.CircleQuery) ([]model.Circle, error) {
	if !s.hang {
		panic("driver exploded")
	}
	<-ctx.Done()
	s.once.Do(func() { close(s.released) })
	return nil, ctx.Err()
}

func (s *brokenStore) Submissions(context.Context, model.SubmissionQuery) ([]model.MissionSubmission, error) {
	panic("driver exploded")
}

func TestEngine_BrokenStore(t *testing.T) {
	Convey("Given the circle rules over a store that fails hard", t, func() {
		reg := rules.MustRegistry(circles.Descriptors()...)
		ctx := context.Background()

		Convey("When every query panics", func() {
			store := &brokenStore{MemoryStore: repository.NewMemoryStore()}
			e := engine.New(reg, store, engine.WithWorkers(2), engine.WithRuleTimeout(time.Second))
			res := e.RunAll(ctx, types.Options{})

			Convey("Then each rule fails on its own and the batch returns", func() {
				So(res.Failed(), ShouldEqual, reg.Len())
				So(len(res.Items()), ShouldEqual, 0)
				for _, f := range res.Failures() {
					So(errors.Is(f.Err, rules.ErrQueryPanic), ShouldBeTrue)
				}
			})

			Convey("Then a direct run reports a rule panic", func() {
				_, err := e.RunRule(ctx, "C1", types.Options{})
				So(errors.Is(err, engine.ErrRulePanic), ShouldBeTrue)
			})
		})

		Convey("When circle queries block", func() {
			store := &brokenStore{MemoryStore: repository.NewMemoryStore(), hang: true, released: make(chan struct{})}
			e := engine.New(reg, store, engine.WithWorkers(2), engine.WithRuleTimeout(50*time.Millisecond))
			res := e.RunAll(ctx, types.Options{})

			Convey("Then the rules time out and the shared load is released", func() {
				So(res.Failed(), ShouldEqual, reg.Len())
				select {
				case <-store.released:
				case <-time.After(2 * time.Second):
					t.Fatal("shared load never saw its deadline")
				}
			})
		})
	})
}
