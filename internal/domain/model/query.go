package model

import "time"

// CircleQuery selects circles. An empty RegionID matches every region.
// SessionsSince and SessionsUntil bound each circle's sessions, both
// inclusive; a zero bound is open.
type CircleQuery struct {
	RegionID      string
	SessionsSince time.Time
	SessionsUntil time.Time
}

// SubmissionQuery selects mission submissions. Empty slices match everything.
// Since and Until are inclusive; a zero bound is open.
type SubmissionQuery struct {
	UserIDs    []string
	MissionIDs []string
	Since      time.Time
	Until      time.Time
}

// After reports whether t lies past the upper bound until. A zero until is open.
func After(t, until time.Time) bool {
	return !until.IsZero() && t.After(until)
}

// MissionQuery selects missions. ActiveAt, when set, keeps missions running at that instant.
type MissionQuery struct {
	RegionID string
	ActiveAt time.Time
}

// UserQuery selects users. Role, when set, keeps holders of that role.
type UserQuery struct {
	RegionID string
	Role     string
	IDs      []string
}
