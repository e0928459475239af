// Package seed generates a synthetic region of circles, youth, sessions and
// missions for demos and local load runs.
package seed

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/pkg/logger"
)

// Default generation sizes.
const (
	defaultRegionID   = "demo-region"
	defaultCircles    = 12
	defaultMinMembers = 4
	defaultMaxMembers = 24
	defaultSessions   = 6
	defaultMissions   = 4
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
)

const (
	randomFloatDivisor = 1000000
	sessionSpacingDays = 7
	day                = 24 * time.Hour
)

// Circle profiles drive attendance and submission behaviour.
const (
	profileThriving = iota
	profileSteady
	profileFading
	profileCount
)

var (
	firstNames = []string{"Amara", "Bilal", "Chen", "Dara", "Elif", "Farah", "Gabe", "Hana", "Idris", "Juno", "Kofi", "Lena", "Mateo", "Nia", "Omar", "Priya", "Quinn", "Rafa", "Sana", "Tomas"}
	lastNames  = []string{"Adeyemi", "Brooks", "Costa", "Diallo", "Evans", "Fischer", "Garcia", "Haddad", "Ito", "Jensen", "Khan", "Lopez", "Mensah", "Novak", "Okafor", "Patel"}
	circleTags = []string{"Riverside", "Hilltop", "Harbour", "Northside", "Old Town", "Parkview", "Eastgate", "Meadow"}
)

// Config sizes a generated region.
type Config struct {
	RegionID   string
	Circles    int
	MinMembers int
	MaxMembers int
	Sessions   int // weekly sessions per circle, the newest one day before Now
	Missions   int
	Workers    int
	Now        time.Time
}

// Defaults returns the demo region configuration.
func Defaults() Config {
	return Config{
		RegionID:   defaultRegionID,
		Circles:    defaultCircles,
		MinMembers: defaultMinMembers,
		MaxMembers: defaultMaxMembers,
		Sessions:   defaultSessions,
		Missions:   defaultMissions,
		Workers:    runtime.NumCPU() * defaultWorkers,
	}
}

// Stats counts what Generate wrote.
type Stats struct {
	Users       int
	Circles     int
	Sessions    int
	Missions    int
	Submissions int
	Duration    time.Duration
}

type counters struct {
	users, circles, sessions, submissions atomic.Int64
}

// Generate writes a synthetic region into w. Circles are generated
// concurrently on up to cfg.Workers goroutines.
func Generate(ctx context.Context, w repository.Writer, cfg Config) (Stats, error) {
	cfg = normalize(cfg)
	start := time.Now()
	log := logger.Get().Named("seed")
	log.Info(ctx, "generating region",
		logger.String("region", cfg.RegionID),
		logger.Int("circles", cfg.Circles),
		logger.Int("missions", cfg.Missions),
	)

	var c counters
	if err := seedStaff(ctx, w, cfg, &c); err != nil {
		return Stats{}, err
	}
	missions, err := seedMissions(ctx, w, cfg)
	if err != nil {
		return Stats{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Circles; i++ {
		g.Go(func() error {
			return seedCircle(gctx, w, cfg, i, missions, &c)
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("seed circles: %w", err)
	}

	stats := Stats{
		Users:       int(c.users.Load()),
		Circles:     int(c.circles.Load()),
		Sessions:    int(c.sessions.Load()),
		Missions:    len(missions),
		Submissions: int(c.submissions.Load()),
		Duration:    time.Since(start),
	}
	log.Info(ctx, "region generated",
		logger.Int("users", stats.Users),
		logger.Int("circles", stats.Circles),
		logger.Int("sessions", stats.Sessions),
		logger.Int("submissions", stats.Submissions),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func normalize(cfg Config) Config {
	d := Defaults()
	if cfg.RegionID == "" {
		cfg.RegionID = d.RegionID
	}
	if cfg.Circles < 0 {
		cfg.Circles = 0
	}
	if cfg.MinMembers < 0 {
		cfg.MinMembers = 0
	}
	if cfg.MaxMembers < cfg.MinMembers {
		cfg.MaxMembers = cfg.MinMembers
	}
	if cfg.Sessions < 0 {
		cfg.Sessions = 0
	}
	if cfg.Missions < 0 {
		cfg.Missions = 0
	}
	if cfg.Workers < 1 {
		cfg.Workers = d.Workers
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	return cfg
}

func seedStaff(ctx context.Context, w repository.Writer, cfg Config, c *counters) error {
	staff := []string{model.RoleAdmin, model.RoleRegionalDirector, model.RoleAmbassador, model.RoleCreator}
	for _, role := range staff {
		u := model.User{Person: person(), RegionID: cfg.RegionID, Roles: []string{role}}
		if err := w.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("seed staff %s: %w", role, err)
		}
		c.users.Add(1)
	}
	return nil
}

func seedMissions(ctx context.Context, w repository.Writer, cfg Config) ([]model.Mission, error) {
	out := make([]model.Mission, 0, cfg.Missions)
	for i := 0; i < cfg.Missions; i++ {
		m := model.Mission{
			ID:                uuid.NewString(),
			Title:             fmt.Sprintf("Mission %d", i+1),
			RegionID:          cfg.RegionID,
			StartsAt:          cfg.Now.Add(-time.Duration(5+intn(20)) * day),
			EndsAt:            cfg.Now.Add(time.Duration(3+intn(25)) * day),
			TargetSubmissions: 10 + intn(50),
		}
		if err := w.SaveMission(ctx, m); err != nil {
			return nil, fmt.Errorf("seed mission: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func seedCircle(ctx context.Context, w repository.Writer, cfg Config, index int, missions []model.Mission, c *counters) error {
	profile := intn(profileCount)

	captain := model.User{Person: person(), RegionID: cfg.RegionID, Roles: []string{model.RoleYouthCaptain}}
	if err := w.SaveUser(ctx, captain); err != nil {
		return err
	}
	c.users.Add(1)

	circle := model.Circle{
		ID:       uuid.NewString(),
		Name:     fmt.Sprintf("%s %d", circleTags[index%len(circleTags)], index+1),
		RegionID: cfg.RegionID,
		Captain:  captain.Person,
	}

	size := cfg.MinMembers + intn(cfg.MaxMembers-cfg.MinMembers+1)
	for i := 0; i < size; i++ {
		youth := model.User{Person: person(), RegionID: cfg.RegionID, Roles: []string{model.RoleYouth}}
		if err := w.SaveUser(ctx, youth); err != nil {
			return err
		}
		c.users.Add(1)

		// A handful of recent joiners per circle feeds growth signals.
		joined := cfg.Now.Add(-time.Duration(20+intn(70)) * day)
		if chance(0.15) {
			joined = cfg.Now.Add(-time.Duration(1+intn(14)) * day)
		}
		circle.Members = append(circle.Members, model.Member{Person: youth.Person, JoinedAt: joined})
	}

	for s := 0; s < cfg.Sessions; s++ {
		at := cfg.Now.Add(-time.Duration(sessionSpacingDays*s+1) * day)
		sess := model.Session{ID: uuid.NewString(), CircleID: circle.ID, ScheduledAt: at}
		p := presence(profile, s)
		for _, m := range circle.Members {
			if m.JoinedAt.After(at) {
				continue
			}
			status := model.StatusAbsent
			switch {
			case chance(p):
				status = model.StatusPresent
			case chance(0.2):
				status = model.StatusExcused
			}
			sess.Attendance = append(sess.Attendance, model.AttendanceRecord{SessionID: sess.ID, UserID: m.ID, Status: status})
		}
		circle.Sessions = append(circle.Sessions, sess)
	}
	if err := w.SaveCircle(ctx, circle); err != nil {
		return err
	}
	c.circles.Add(1)
	c.sessions.Add(int64(len(circle.Sessions)))

	if len(missions) == 0 {
		return nil
	}
	for _, m := range circle.Members {
		n := submissionsFor(profile)
		for i := 0; i < n; i++ {
			mission := missions[intn(len(missions))]
			sub := model.MissionSubmission{
				ID:          uuid.NewString(),
				MissionID:   mission.ID,
				UserID:      m.ID,
				SubmittedAt: cfg.Now.Add(-time.Duration(1+intn(20)) * day),
			}
			if err := w.SaveSubmission(ctx, sub); err != nil {
				return err
			}
			c.submissions.Add(1)
		}
	}
	return nil
}

// presence is the chance a member attends session s (0 = newest).
func presence(profile, s int) float64 {
	switch profile {
	case profileThriving:
		return 0.9
	case profileFading:
		if s == 0 {
			return 0.3
		}
		return 0.75
	default:
		return 0.6
	}
}

func submissionsFor(profile int) int {
	switch profile {
	case profileThriving:
		return 1 + intn(4)
	case profileFading:
		if chance(0.7) {
			return 0
		}
		return 1
	default:
		return intn(3)
	}
}

func person() model.Person {
	return model.Person{
		ID:        uuid.NewString(),
		FirstName: firstNames[intn(len(firstNames))],
		LastName:  lastNames[intn(len(lastNames))],
	}
}

// intn returns a uniform int in [0, n) using crypto/rand.
func intn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func chance(p float64) bool {
	return float64(intn(randomFloatDivisor))/randomFloatDivisor < p
}
