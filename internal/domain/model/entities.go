// Package model contains the read-only organisational snapshots rules consume.
package model

import "time"

// Attendance statuses. Only StatusPresent counts toward attendance rates.
const (
	StatusPresent = "PRESENT"
	StatusAbsent  = "ABSENT"
	StatusExcused = "EXCUSED"
	StatusLate    = "LATE"
)

// Platform roles as resolved by the auth layer.
const (
	RoleAdmin            = "ADMIN"
	RoleCouncil          = "COUNCIL"
	RoleRegionalDirector = "REGIONAL_DIRECTOR"
	RoleAmbassador       = "AMBASSADOR"
	RoleYouthCaptain     = "YOUTH_CAPTAIN"
	RoleCreator          = "CREATOR"
	RoleYouth            = "YOUTH"
)

// Person carries display names.
type Person struct {
	ID        string
	FirstName string
	LastName  string
}

// DisplayName joins the name fields, falling back to the id.
func (p Person) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.ID
	}
}

// Member is a circle membership.
type Member struct {
	Person
	JoinedAt time.Time
}

// AttendanceRecord is one member's status for one session.
type AttendanceRecord struct {
	SessionID string
	UserID    string
	Status    string
}

// Session is a scheduled circle meeting.
type Session struct {
	ID          string
	CircleID    string
	ScheduledAt time.Time
	Attendance  []AttendanceRecord
}

// PresentCount returns the number of PRESENT records.
func (s Session) PresentCount() int {
	n := 0
	for _, a := range s.Attendance {
		if a.Status == StatusPresent {
			n++
		}
	}
	return n
}

// Circle is a mentoring group. Sessions hold only the queried window,
// newest first.
type Circle struct {
	ID       string
	Name     string
	RegionID string
	Captain  Person
	Members  []Member
	Sessions []Session
}

// MemberIDs returns the user ids of all members in order.
func (c Circle) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// Mission is a challenge youth submit work against.
type Mission struct {
	ID                string
	Title             string
	RegionID          string
	StartsAt          time.Time
	EndsAt            time.Time
	TargetSubmissions int
}

// ActiveAt reports whether t falls inside the mission window.
func (m Mission) ActiveAt(t time.Time) bool {
	return !t.Before(m.StartsAt) && t.Before(m.EndsAt)
}

// MissionSubmission is one piece of submitted work.
type MissionSubmission struct {
	ID          string
	MissionID   string
	UserID      string
	SubmittedAt time.Time
}

// User is a platform account with its roles.
type User struct {
	Person
	RegionID string
	Roles    []string
}

// HasRole reports whether the user holds role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
