package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/pkg/metrics"
)

// MemoryStore is an in-memory Store. Reads return deep copies, so callers
// may hold results across writes.
type MemoryStore struct {
	mu sync.RWMutex

	users     map[string]model.User
	userOrder []string

	circles     map[string]model.Circle // sessions live in sessions
	circleOrder []string
	sessions    map[string]map[string]model.Session // circle id -> session id -> session

	missions     map[string]model.Mission
	missionOrder []string

	submissions map[string]model.MissionSubmission
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]model.User),
		circles:     make(map[string]model.Circle),
		sessions:    make(map[string]map[string]model.Session),
		missions:    make(map[string]model.Mission),
		submissions: make(map[string]model.MissionSubmission),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// SaveUser stores or replaces u.
func (s *MemoryStore) SaveUser(ctx context.Context, u model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateUser(u); err != nil {
		return err
	}
	u.Roles = append([]string(nil), u.Roles...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
	return nil
}

// SaveCircle stores or replaces c. Its sessions are merged into the
// circle's existing sessions.
func (s *MemoryStore) SaveCircle(ctx context.Context, c model.Circle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateCircle(c); err != nil {
		return err
	}
	sessions := c.Sessions
	c.Sessions = nil
	c.Members = append([]model.Member(nil), c.Members...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circles[c.ID]; !ok {
		s.circleOrder = append(s.circleOrder, c.ID)
		s.sessions[c.ID] = make(map[string]model.Session)
	}
	s.circles[c.ID] = c
	for _, sess := range sessions {
		sess.CircleID = c.ID
		s.sessions[c.ID][sess.ID] = copySession(sess)
	}
	return nil
}

// AddMember appends or replaces a membership of circleID.
func (s *MemoryStore) AddMember(ctx context.Context, circleID string, m model.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateMember(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circles[circleID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return fmt.Errorf("%w: circle %s", ErrNotFound, circleID)
	}
	members := make([]model.Member, 0, len(c.Members)+1)
	for _, existing := range c.Members {
		if existing.ID != m.ID {
			members = append(members, existing)
		}
	}
	c.Members = append(members, m)
	s.circles[circleID] = c
	return nil
}

// SaveSession stores or replaces a session of an existing circle.
func (s *MemoryStore) SaveSession(ctx context.Context, sess model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSession(sess); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circles[sess.CircleID]; !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return fmt.Errorf("%w: circle %s", ErrNotFound, sess.CircleID)
	}
	s.sessions[sess.CircleID][sess.ID] = copySession(sess)
	return nil
}

// SaveMission stores or replaces m.
func (s *MemoryStore) SaveMission(ctx context.Context, m model.Mission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateMission(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; !ok {
		s.missionOrder = append(s.missionOrder, m.ID)
	}
	s.missions[m.ID] = m
	return nil
}

// SaveSubmission stores or replaces sub.
func (s *MemoryStore) SaveSubmission(ctx context.Context, sub model.MissionSubmission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSubmission(sub); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
	return nil
}

// Circles returns circles in insertion order with in-window sessions, newest first.
func (s *MemoryStore) Circles(ctx context.Context, q model.CircleQuery) (out []model.Circle, err error) {
	defer observe("circles", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out = make([]model.Circle, 0, len(s.circleOrder))
	for _, id := range s.circleOrder {
		c := s.circles[id]
		if q.RegionID != "" && c.RegionID != q.RegionID {
			continue
		}
		c.Members = append([]model.Member(nil), c.Members...)
		c.Sessions = make([]model.Session, 0, len(s.sessions[id]))
		for _, sess := range s.sessions[id] {
			if sess.ScheduledAt.Before(q.SessionsSince) || model.After(sess.ScheduledAt, q.SessionsUntil) {
				continue
			}
			c.Sessions = append(c.Sessions, copySession(sess))
		}
		SortSessions(c.Sessions)
		out = append(out, c)
	}
	return out, nil
}

// Submissions returns matching submissions, newest first.
func (s *MemoryStore) Submissions(ctx context.Context, q model.SubmissionQuery) (out []model.MissionSubmission, err error) {
	defer observe("submissions", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := toSet(q.UserIDs)
	missions := toSet(q.MissionIDs)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out = make([]model.MissionSubmission, 0)
	for _, sub := range s.submissions {
		if !matches(users, sub.UserID) || !matches(missions, sub.MissionID) {
			continue
		}
		if sub.SubmittedAt.Before(q.Since) || model.After(sub.SubmittedAt, q.Until) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Missions returns matching missions in insertion order.
func (s *MemoryStore) Missions(ctx context.Context, q model.MissionQuery) (out []model.Mission, err error) {
	defer observe("missions", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out = make([]model.Mission, 0, len(s.missionOrder))
	for _, id := range s.missionOrder {
		m := s.missions[id]
		if q.RegionID != "" && m.RegionID != q.RegionID {
			continue
		}
		if !q.ActiveAt.IsZero() && !m.ActiveAt(q.ActiveAt) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Users returns matching users in insertion order.
func (s *MemoryStore) Users(ctx context.Context, q model.UserQuery) (out []model.User, err error) {
	defer observe("users", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := toSet(q.IDs)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out = make([]model.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		u := s.users[id]
		if q.RegionID != "" && u.RegionID != q.RegionID {
			continue
		}
		if q.Role != "" && !u.HasRole(q.Role) {
			continue
		}
		if !matches(ids, u.ID) {
			continue
		}
		u.Roles = append([]string(nil), u.Roles...)
		out = append(out, u)
	}
	return out, nil
}

// Count returns the number of stored circles, users, missions and submissions.
func (s *MemoryStore) Count() (circles, users, missions, submissions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.circles), len(s.users), len(s.missions), len(s.submissions)
}

func copySession(sess model.Session) model.Session {
	sess.Attendance = append([]model.AttendanceRecord(nil), sess.Attendance...)
	for i := range sess.Attendance {
		sess.Attendance[i].SessionID = sess.ID
	}
	return sess
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// matches treats a nil set as "no filter".
func matches(set map[string]struct{}, id string) bool {
	if set == nil {
		return true
	}
	_, ok := set[id]
	return ok
}

func observe(query string, start time.Time, err *error) {
	metrics.RecordStoreQuery(query, float64(time.Since(start).Microseconds())/1000, *err)
}
