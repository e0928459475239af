package youth_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/rules/youth"
	"github.com/okian/insights/internal/domain/types"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type youngster struct {
	id          string
	role        string // YOUTH when empty
	joinedDays  int
	present     []bool // newest session first
	submissions int
}

func build(t *testing.T, members ...youngster) *rules.Context {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	c := model.Circle{ID: "c1", Name: "Riverside"}
	for _, y := range members {
		c.Members = append(c.Members, model.Member{
			Person:   model.Person{ID: y.id, FirstName: y.id},
			JoinedAt: now.AddDate(0, 0, -y.joinedDays),
		})
	}
	for i := 0; i < 4; i++ {
		s := model.Session{ID: fmt.Sprintf("s%d", i), ScheduledAt: now.AddDate(0, 0, -(7*i + 1))}
		for _, y := range members {
			status := model.StatusAbsent
			if i < len(y.present) && y.present[i] {
				status = model.StatusPresent
			}
			s.Attendance = append(s.Attendance, model.AttendanceRecord{UserID: y.id, Status: status})
		}
		c.Sessions = append(c.Sessions, s)
	}
	if err := store.SaveCircle(ctx, c); err != nil {
		t.Fatalf("save circle: %v", err)
	}
	for _, y := range members {
		role := y.role
		if role == "" {
			role = model.RoleYouth
		}
		if err := store.SaveUser(ctx, model.User{Person: model.Person{ID: y.id, FirstName: y.id}, Roles: []string{role}}); err != nil {
			t.Fatalf("save user: %v", err)
		}
		for i := 0; i < y.submissions; i++ {
			if err := store.SaveSubmission(ctx, model.MissionSubmission{
				ID: fmt.Sprintf("%s-%d", y.id, i), MissionID: "m1", UserID: y.id, SubmittedAt: now.AddDate(0, 0, -3),
			}); err != nil {
				t.Fatalf("save submission: %v", err)
			}
		}
	}
	return rules.NewContext(store, now, 0)
}

func byUser(items []types.InsightItem) map[string]types.InsightItem {
	out := make(map[string]types.InsightItem, len(items))
	for _, it := range items {
		out[it.Metadata["userId"].(string)] = it
	}
	return out
}

func TestAtRisk(t *testing.T) {
	Convey("Given a circle with youth in different situations", t, func() {
		ec := build(t,
			youngster{id: "gone", joinedDays: 60, present: []bool{false, false, false, true}},
			youngster{id: "quiet", joinedDays: 60, present: []bool{true, true, true, true}},
			youngster{id: "skipper", joinedDays: 60, present: []bool{false, false, false, false}, submissions: 1},
			youngster{id: "new", joinedDays: 5, present: []bool{false}},
			youngster{id: "star", joinedDays: 60, present: []bool{true, true, true, true}, submissions: 2},
		)

		Convey("When Y1 runs", func() {
			items, err := youth.AtRisk(context.Background(), ec, types.Options{})
			got := byUser(items)

			Convey("Then missing both signals is high and one signal is medium", func() {
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 3)

				So(got["gone"].Severity, ShouldEqual, types.SeverityHigh)
				So(got["gone"].Metadata["reasons"], ShouldResemble, []string{youth.ReasonMissedSessions, youth.ReasonNoSubmissions})
				So(got["gone"].Message, ShouldContainSubstring, "missed the last 3 sessions and has no mission submissions")

				So(got["quiet"].Severity, ShouldEqual, types.SeverityMedium)
				So(got["quiet"].Metadata["reasons"], ShouldResemble, []string{youth.ReasonNoSubmissions})

				So(got["skipper"].Severity, ShouldEqual, types.SeverityMedium)
				So(got["skipper"].Metadata["missedSessions"], ShouldEqual, 3)
				So(got["skipper"].Type, ShouldEqual, types.TypeAlert)
			})

			Convey("Then recent joiners and engaged youth are left alone", func() {
				_, flaggedNew := got["new"]
				_, flaggedStar := got["star"]
				So(flaggedNew, ShouldBeFalse)
				So(flaggedStar, ShouldBeFalse)
			})
		})

		Convey("When Y2 runs", func() {
			items, err := youth.Rising(context.Background(), ec, types.Options{})

			Convey("Then only the engaged member is an opportunity", func() {
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 1)
				So(items[0].Metadata["userId"], ShouldEqual, "star")
				So(items[0].Type, ShouldEqual, types.TypeOpportunity)
				So(items[0].Audience, ShouldResemble, []types.Audience{types.AudienceCaptain, types.AudienceCreator})
			})
		})
	})

	Convey("Given members who do not hold the YOUTH role", t, func() {
		ec := build(t,
			youngster{id: "mentor", role: model.RoleYouthCaptain, joinedDays: 60, present: []bool{false, false, false, false}},
			youngster{id: "creator", role: model.RoleCreator, joinedDays: 60, present: []bool{true, true, true, true}, submissions: 3},
			youngster{id: "gone", joinedDays: 60, present: []bool{false, false, false, false}},
		)

		Convey("Then Y1 flags only the youth", func() {
			items, err := youth.AtRisk(context.Background(), ec, types.Options{})
			So(err, ShouldBeNil)
			So(len(items), ShouldEqual, 1)
			So(items[0].Metadata["userId"], ShouldEqual, "gone")
		})

		Convey("Then Y2 ignores the engaged creator", func() {
			items, err := youth.Rising(context.Background(), ec, types.Options{})
			So(err, ShouldBeNil)
			So(items, ShouldBeEmpty)
		})
	})

	Convey("Given a circle without members", t, func() {
		ec := build(t)

		Convey("Then neither rule emits anything", func() {
			a, err := youth.AtRisk(context.Background(), ec, types.Options{})
			So(err, ShouldBeNil)
			So(a, ShouldBeEmpty)
			r, err := youth.Rising(context.Background(), ec, types.Options{})
			So(err, ShouldBeNil)
			So(r, ShouldBeEmpty)
		})
	})
}
