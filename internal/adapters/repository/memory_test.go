package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/domain/model"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n) }

func seedStore(ctx context.Context, s *repository.MemoryStore) {
	So(s.SaveCircle(ctx, model.Circle{
		ID: "c1", Name: "North", RegionID: "r1",
		Captain: model.Person{ID: "cap", FirstName: "Ada"},
		Members: []model.Member{
			{Person: model.Person{ID: "u1"}, JoinedAt: day(-60)},
			{Person: model.Person{ID: "u2"}, JoinedAt: day(-5)},
		},
		Sessions: []model.Session{
			{ID: "s-old", ScheduledAt: day(-40)},
			{ID: "s1", ScheduledAt: day(-14), Attendance: []model.AttendanceRecord{{UserID: "u1", Status: model.StatusPresent}}},
			{ID: "s2", ScheduledAt: day(-7)},
		},
	}), ShouldBeNil)
	So(s.SaveCircle(ctx, model.Circle{ID: "c2", RegionID: "r2"}), ShouldBeNil)
	So(s.SaveMission(ctx, model.Mission{ID: "m1", RegionID: "r1", StartsAt: day(-10), EndsAt: day(10), TargetSubmissions: 5}), ShouldBeNil)
	So(s.SaveMission(ctx, model.Mission{ID: "m2", RegionID: "r1", StartsAt: day(-30), EndsAt: day(-20)}), ShouldBeNil)
	So(s.SaveSubmission(ctx, model.MissionSubmission{ID: "x1", MissionID: "m1", UserID: "u1", SubmittedAt: day(-3)}), ShouldBeNil)
	So(s.SaveSubmission(ctx, model.MissionSubmission{ID: "x2", MissionID: "m1", UserID: "u2", SubmittedAt: day(-1)}), ShouldBeNil)
	So(s.SaveSubmission(ctx, model.MissionSubmission{ID: "x3", MissionID: "m2", UserID: "u1", SubmittedAt: day(-45)}), ShouldBeNil)
	So(s.SaveUser(ctx, model.User{Person: model.Person{ID: "u1"}, RegionID: "r1", Roles: []string{model.RoleYouth}}), ShouldBeNil)
	So(s.SaveUser(ctx, model.User{Person: model.Person{ID: "cap"}, RegionID: "r1", Roles: []string{model.RoleYouthCaptain}}), ShouldBeNil)
}

func TestMemoryStore_Circles(t *testing.T) {
	Convey("Given a seeded memory store", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		seedStore(ctx, s)

		Convey("When circles are queried by region with a window", func() {
			out, err := s.Circles(ctx, model.CircleQuery{RegionID: "r1", SessionsSince: day(-30)})

			Convey("Then out-of-window sessions are trimmed and the rest are newest first", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, 1)
				So(len(out[0].Sessions), ShouldEqual, 2)
				So(out[0].Sessions[0].ID, ShouldEqual, "s2")
				So(out[0].Sessions[1].ID, ShouldEqual, "s1")
				So(out[0].Sessions[1].Attendance[0].SessionID, ShouldEqual, "s1")
				So(out[0].Sessions[1].CircleID, ShouldEqual, "c1")
			})

			Convey("Then mutating the result does not touch the store", func() {
				out[0].Members[0].ID = "mutated"
				again, _ := s.Circles(ctx, model.CircleQuery{RegionID: "r1"})
				So(again[0].Members[0].ID, ShouldEqual, "u1")
			})
		})

		Convey("When the window is closed at both ends", func() {
			out, err := s.Circles(ctx, model.CircleQuery{RegionID: "r1", SessionsSince: day(-30), SessionsUntil: day(-10)})

			Convey("Then sessions after the upper bound are left out", func() {
				So(err, ShouldBeNil)
				So(len(out[0].Sessions), ShouldEqual, 1)
				So(out[0].Sessions[0].ID, ShouldEqual, "s1")
			})
		})

		Convey("When no region is given", func() {
			out, err := s.Circles(ctx, model.CircleQuery{})

			Convey("Then every circle is returned in insertion order with all sessions", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, 2)
				So(out[0].ID, ShouldEqual, "c1")
				So(len(out[0].Sessions), ShouldEqual, 3)
				So(out[1].Sessions, ShouldBeEmpty)
			})
		})

		Convey("When a member and a session are added", func() {
			So(s.AddMember(ctx, "c1", model.Member{Person: model.Person{ID: "u3"}, JoinedAt: day(-1)}), ShouldBeNil)
			So(s.SaveSession(ctx, model.Session{ID: "s3", CircleID: "c1", ScheduledAt: day(-1)}), ShouldBeNil)
			out, _ := s.Circles(ctx, model.CircleQuery{RegionID: "r1", SessionsSince: day(-30)})

			Convey("Then both are visible", func() {
				So(len(out[0].Members), ShouldEqual, 3)
				So(out[0].Sessions[0].ID, ShouldEqual, "s3")
			})
		})

		Convey("When writing into an unknown circle", func() {
			err := s.AddMember(ctx, "nope", model.Member{Person: model.Person{ID: "u9"}})
			serr := s.SaveSession(ctx, model.Session{ID: "s9", CircleID: "nope", ScheduledAt: day(0)})

			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(serr, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestMemoryStore_SubmissionsMissionsUsers(t *testing.T) {
	Convey("Given a seeded memory store", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		seedStore(ctx, s)

		Convey("Submissions filter by user, mission and time", func() {
			byUser, err := s.Submissions(ctx, model.SubmissionQuery{UserIDs: []string{"u1"}})
			So(err, ShouldBeNil)
			So(len(byUser), ShouldEqual, 2)
			So(byUser[0].ID, ShouldEqual, "x1")

			recent, _ := s.Submissions(ctx, model.SubmissionQuery{Since: day(-30)})
			So(len(recent), ShouldEqual, 2)
			So(recent[0].ID, ShouldEqual, "x2")

			byMission, _ := s.Submissions(ctx, model.SubmissionQuery{MissionIDs: []string{"m2"}})
			So(len(byMission), ShouldEqual, 1)

			bounded, _ := s.Submissions(ctx, model.SubmissionQuery{Since: day(-30), Until: day(-2)})
			So(len(bounded), ShouldEqual, 1)
			So(bounded[0].ID, ShouldEqual, "x1")
		})

		Convey("Missions filter by active instant", func() {
			active, err := s.Missions(ctx, model.MissionQuery{RegionID: "r1", ActiveAt: base})
			So(err, ShouldBeNil)
			So(len(active), ShouldEqual, 1)
			So(active[0].ID, ShouldEqual, "m1")

			all, _ := s.Missions(ctx, model.MissionQuery{})
			So(len(all), ShouldEqual, 2)
		})

		Convey("Users filter by role and id", func() {
			captains, err := s.Users(ctx, model.UserQuery{Role: model.RoleYouthCaptain})
			So(err, ShouldBeNil)
			So(len(captains), ShouldEqual, 1)
			So(captains[0].ID, ShouldEqual, "cap")

			byID, _ := s.Users(ctx, model.UserQuery{IDs: []string{"u1", "ghost"}})
			So(len(byID), ShouldEqual, 1)
		})

		Convey("Count reports every entity family", func() {
			circles, users, missions, subs := s.Count()
			So([]int{circles, users, missions, subs}, ShouldResemble, []int{2, 2, 2, 3})
		})
	})
}

func TestMemoryStore_Validation(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()

		Convey("Invalid entities are rejected", func() {
			So(errors.Is(s.SaveUser(ctx, model.User{}), repository.ErrInvalidEntity), ShouldBeTrue)
			So(errors.Is(s.SaveCircle(ctx, model.Circle{}), repository.ErrInvalidEntity), ShouldBeTrue)
			So(errors.Is(s.SaveMission(ctx, model.Mission{ID: "m", StartsAt: day(1), EndsAt: day(0)}), repository.ErrInvalidEntity), ShouldBeTrue)
			So(errors.Is(s.SaveSubmission(ctx, model.MissionSubmission{ID: "x", UserID: "u"}), repository.ErrInvalidEntity), ShouldBeTrue)
		})

		Convey("A cancelled context fails reads", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := s.Circles(cctx, model.CircleQuery{})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}
