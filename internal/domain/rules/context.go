package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/scoring"
	"github.com/okian/insights/pkg/metrics"
)

// DefaultLookback is the rolling window most rules read.
const DefaultLookback = 30 * 24 * time.Hour

// Querier is the read-only entity query interface rules depend on.
type Querier interface {
	Circles(ctx context.Context, q model.CircleQuery) ([]model.Circle, error)
	Submissions(ctx context.Context, q model.SubmissionQuery) ([]model.MissionSubmission, error)
	Missions(ctx context.Context, q model.MissionQuery) ([]model.Mission, error)
	Users(ctx context.Context, q model.UserQuery) ([]model.User, error)
}

// Context is shared by every rule of one evaluation pass. Circle snapshots,
// per-member submission counts, youth membership and health scores are
// loaded once per pass.
type Context struct {
	Store    Querier
	Now      time.Time
	Lookback time.Duration

	// LoadTimeout bounds each shared load. Zero means no deadline.
	LoadTimeout time.Duration

	circles     memo[[]model.Circle]
	submissions memo[map[string]int]
	youth       memo[map[string]bool]
	health      memo[healthEntry]
}

type healthEntry struct {
	health scoring.Health
	ok     bool
}

// NewContext builds a pass context. A non-positive lookback uses DefaultLookback.
func NewContext(store Querier, now time.Time, lookback time.Duration) *Context {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Context{
		Store:       store,
		Now:         now,
		Lookback:    lookback,
		circles:     memo[[]model.Circle]{name: "circles"},
		submissions: memo[map[string]int]{name: "submissions"},
		youth:       memo[map[string]bool]{name: "youth"},
		health:      memo[healthEntry]{name: "health"},
	}
}

// WindowStart is the inclusive lower bound of the lookback window.
func (c *Context) WindowStart() time.Time {
	return c.Now.Add(-c.Lookback)
}

// Circles returns the circles of region with sessions trimmed to the window,
// newest session first. Sessions scheduled after Now are left out. An empty
// region selects every circle.
func (c *Context) Circles(ctx context.Context, regionID string) ([]model.Circle, error) {
	return c.circles.get(ctx, c.LoadTimeout, "region:"+regionID, func(ctx context.Context) ([]model.Circle, error) {
		out, err := c.Store.Circles(ctx, model.CircleQuery{RegionID: regionID, SessionsSince: c.WindowStart(), SessionsUntil: c.Now})
		if err != nil {
			return nil, fmt.Errorf("%w: circles: %w", ErrQuery, err)
		}
		return out, nil
	})
}

// SubmissionsByMember counts in-window submissions per member of circle.
func (c *Context) SubmissionsByMember(ctx context.Context, circle model.Circle) (map[string]int, error) {
	ids := circle.MemberIDs()
	if len(ids) == 0 {
		return map[string]int{}, nil
	}
	return c.submissions.get(ctx, c.LoadTimeout, circle.ID, func(ctx context.Context) (map[string]int, error) {
		subs, err := c.Store.Submissions(ctx, model.SubmissionQuery{UserIDs: ids, Since: c.WindowStart(), Until: c.Now})
		if err != nil {
			return nil, fmt.Errorf("%w: submissions of circle %s: %w", ErrQuery, circle.ID, err)
		}
		counts := make(map[string]int, len(ids))
		for _, s := range subs {
			counts[s.UserID]++
		}
		return counts, nil
	})
}

// Youth returns the members of circle holding the YOUTH role.
func (c *Context) Youth(ctx context.Context, circle model.Circle) (map[string]bool, error) {
	ids := circle.MemberIDs()
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	return c.youth.get(ctx, c.LoadTimeout, circle.ID, func(ctx context.Context) (map[string]bool, error) {
		users, err := c.Store.Users(ctx, model.UserQuery{IDs: ids, Role: model.RoleYouth})
		if err != nil {
			return nil, fmt.Errorf("%w: users of circle %s: %w", ErrQuery, circle.ID, err)
		}
		out := make(map[string]bool, len(users))
		for _, u := range users {
			out[u.ID] = true
		}
		return out, nil
	})
}

// Health returns the circle health composite. ok is false when the score is
// undefined for the circle.
func (c *Context) Health(ctx context.Context, circle model.Circle) (scoring.Health, bool, error) {
	if len(circle.Members) == 0 || len(circle.Sessions) == 0 {
		return scoring.Health{}, false, nil
	}
	e, err := c.health.get(ctx, c.LoadTimeout, circle.ID, func(ctx context.Context) (healthEntry, error) {
		counts, err := c.SubmissionsByMember(ctx, circle)
		if err != nil {
			return healthEntry{}, err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		h, ok := scoring.Compute(scoring.InputFor(circle, total))
		return healthEntry{health: h, ok: ok}, nil
	})
	if err != nil {
		return scoring.Health{}, false, err
	}
	return e.health, e.ok, nil
}

// ActiveMissions returns the missions of region running at Now.
func (c *Context) ActiveMissions(ctx context.Context, regionID string) ([]model.Mission, error) {
	out, err := c.Store.Missions(ctx, model.MissionQuery{RegionID: regionID, ActiveAt: c.Now})
	if err != nil {
		return nil, fmt.Errorf("%w: missions: %w", ErrQuery, err)
	}
	return out, nil
}

// MissionSubmissions counts submissions per mission id among missionIDs.
func (c *Context) MissionSubmissions(ctx context.Context, missionIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(missionIDs))
	if len(missionIDs) == 0 {
		return counts, nil
	}
	subs, err := c.Store.Submissions(ctx, model.SubmissionQuery{MissionIDs: missionIDs, Until: c.Now})
	if err != nil {
		return nil, fmt.Errorf("%w: mission submissions: %w", ErrQuery, err)
	}
	for _, s := range subs {
		counts[s.MissionID]++
	}
	return counts, nil
}

// memo caches successful loads for the lifetime of a pass. Concurrent
// loads of one key are collapsed; failures are not cached.
type memo[V any] struct {
	name  string
	mu    sync.Mutex
	vals  map[string]V
	group singleflight.Group
}

// get returns the cached value for key or runs load once for all concurrent
// callers. The load runs on its own goroutine, detached from the caller's
// cancellation and bounded by timeout, so a panic there is recovered into
// ErrQueryPanic.
func (m *memo[V]) get(ctx context.Context, timeout time.Duration, key string, load func(context.Context) (V, error)) (V, error) {
	var zero V

	m.mu.Lock()
	if v, ok := m.vals[key]; ok {
		m.mu.Unlock()
		metrics.RecordMemoHit(m.name)
		return v, nil
	}
	m.mu.Unlock()
	metrics.RecordMemoMiss(m.name)

	loadCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (_ any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s %s: %v", ErrQueryPanic, m.name, key, r)
			}
		}()

		m.mu.Lock()
		if v, ok := m.vals[key]; ok {
			m.mu.Unlock()
			return v, nil
		}
		m.mu.Unlock()

		lctx := loadCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(loadCtx, timeout)
			defer cancel()
		}
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.vals == nil {
			m.vals = make(map[string]V)
		}
		m.vals[key] = v
		m.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}
