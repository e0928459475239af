package missions_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/rules/missions"
	"github.com/okian/insights/internal/domain/types"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func halfway(id string, target, submissions int) (model.Mission, int) {
	return model.Mission{
		ID: id, Title: "Mission " + id, RegionID: "r1",
		StartsAt: now.AddDate(0, 0, -10), EndsAt: now.AddDate(0, 0, 10),
		TargetSubmissions: target,
	}, submissions
}

func build(t *testing.T) *rules.Context {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	type seeded struct {
		m    model.Mission
		subs int
	}
	var all []seeded
	for _, args := range []struct {
		id          string
		target, got int
	}{
		{"low", 20, 4},  // 8 projected, 40%
		{"edge", 10, 4}, // 80%
		{"mid", 10, 3},  // 60%
		{"hot", 10, 7},  // 140%
		{"untargeted", 0, 9},
	} {
		m, subs := halfway(args.id, args.target, args.got)
		all = append(all, seeded{m: m, subs: subs})
	}
	all = append(all, seeded{m: model.Mission{ID: "future", StartsAt: now.AddDate(0, 0, 1), EndsAt: now.AddDate(0, 0, 9), TargetSubmissions: 5}})

	for _, s := range all {
		if err := store.SaveMission(ctx, s.m); err != nil {
			t.Fatalf("save mission: %v", err)
		}
		for i := 0; i < s.subs; i++ {
			if err := store.SaveSubmission(ctx, model.MissionSubmission{
				ID: fmt.Sprintf("%s-%d", s.m.ID, i), MissionID: s.m.ID, UserID: fmt.Sprintf("u%d", i), SubmittedAt: now.AddDate(0, 0, -1),
			}); err != nil {
				t.Fatalf("save submission: %v", err)
			}
		}
	}
	return rules.NewContext(store, now, 0)
}

func byMission(items []types.InsightItem) map[string]types.InsightItem {
	out := make(map[string]types.InsightItem, len(items))
	for _, it := range items {
		out[it.Metadata["missionId"].(string)] = it
	}
	return out
}

func TestSuccessForecast(t *testing.T) {
	Convey("Given missions halfway through their window", t, func() {
		ec := build(t)

		Convey("When M1 runs", func() {
			items, err := missions.SuccessForecast(context.Background(), ec, types.Options{})
			got := byMission(items)

			Convey("Then targeted running missions get a forecast banded by projected completion", func() {
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 4)
				So(got["low"].Type, ShouldEqual, types.TypeForecast)
				So(got["low"].Severity, ShouldEqual, types.SeverityHigh)
				So(got["low"].Metadata["projectedSubmissions"], ShouldEqual, 8)
				So(got["low"].Metadata["projectedCompletion"], ShouldEqual, 40.0)
				So(got["low"].Metadata["elapsedFraction"], ShouldEqual, 0.5)
				So(got["low"].Metadata["daysRemaining"], ShouldEqual, 10)
				So(got["mid"].Severity, ShouldEqual, types.SeverityMedium)
				So(got["edge"].Severity, ShouldEqual, types.SeverityLow)
				So(got["hot"].Severity, ShouldEqual, types.SeverityLow)
			})

			Convey("Then untargeted and future missions are skipped", func() {
				_, untargeted := got["untargeted"]
				_, future := got["future"]
				So(untargeted, ShouldBeFalse)
				So(future, ShouldBeFalse)
			})
		})

		Convey("When M2 runs", func() {
			items, err := missions.Overperformance(context.Background(), ec, types.Options{})

			Convey("Then only the mission projected past 120 percent is an opportunity", func() {
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 1)
				So(items[0].Metadata["missionId"], ShouldEqual, "hot")
				So(items[0].Type, ShouldEqual, types.TypeOpportunity)
			})
		})

		Convey("When scoped to a region without missions", func() {
			items, err := missions.SuccessForecast(context.Background(), ec, types.Options{RegionID: "elsewhere"})

			Convey("Then nothing is emitted", func() {
				So(err, ShouldBeNil)
				So(items, ShouldBeEmpty)
			})
		})
	})
}

func TestProject(t *testing.T) {
	Convey("Given a mission past its end and one that starts now", t, func() {
		over := model.Mission{ID: "over", StartsAt: now.AddDate(0, 0, -20), EndsAt: now.AddDate(0, 0, -10), TargetSubmissions: 4}
		starting := model.Mission{ID: "start", StartsAt: now, EndsAt: now.AddDate(0, 0, 10), TargetSubmissions: 4}

		out := missions.Project([]model.Mission{over, starting}, map[string]int{"over": 2, "start": 1}, now)

		Convey("Then elapsed is capped at one and a zero-length elapsed window is skipped", func() {
			So(len(out), ShouldEqual, 1)
			So(out[0].Elapsed, ShouldEqual, 1.0)
			So(out[0].Projected, ShouldEqual, 2)
			So(out[0].Completion, ShouldEqual, 50.0)
		})
	})
}
