package repository

import (
	"fmt"
	"sort"
	"strings"

	"github.com/okian/insights/internal/domain/model"
)

// ValidateUser checks the fields every store requires.
func ValidateUser(u model.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidEntity)
	}
	return nil
}

// ValidateCircle checks the circle and its nested members and sessions.
func ValidateCircle(c model.Circle) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: circle id is required", ErrInvalidEntity)
	}
	for _, m := range c.Members {
		if err := ValidateMember(m); err != nil {
			return err
		}
	}
	for _, s := range c.Sessions {
		if s.CircleID != "" && s.CircleID != c.ID {
			return fmt.Errorf("%w: session %s belongs to circle %s", ErrInvalidEntity, s.ID, s.CircleID)
		}
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("%w: session id is required", ErrInvalidEntity)
		}
	}
	return nil
}

// ValidateMember checks a membership.
func ValidateMember(m model.Member) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: member user id is required", ErrInvalidEntity)
	}
	return nil
}

// ValidateSession checks a session and its attendance records.
func ValidateSession(s model.Session) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: session id is required", ErrInvalidEntity)
	case strings.TrimSpace(s.CircleID) == "":
		return fmt.Errorf("%w: session %s has no circle", ErrInvalidEntity, s.ID)
	case s.ScheduledAt.IsZero():
		return fmt.Errorf("%w: session %s has no schedule", ErrInvalidEntity, s.ID)
	}
	for _, a := range s.Attendance {
		if strings.TrimSpace(a.UserID) == "" {
			return fmt.Errorf("%w: attendance in session %s has no user", ErrInvalidEntity, s.ID)
		}
	}
	return nil
}

// ValidateMission checks a mission window.
func ValidateMission(m model.Mission) error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return fmt.Errorf("%w: mission id is required", ErrInvalidEntity)
	case !m.EndsAt.After(m.StartsAt):
		return fmt.Errorf("%w: mission %s ends before it starts", ErrInvalidEntity, m.ID)
	case m.TargetSubmissions < 0:
		return fmt.Errorf("%w: mission %s has a negative target", ErrInvalidEntity, m.ID)
	}
	return nil
}

// ValidateSubmission checks a submission.
func ValidateSubmission(s model.MissionSubmission) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: submission id is required", ErrInvalidEntity)
	case strings.TrimSpace(s.UserID) == "":
		return fmt.Errorf("%w: submission %s has no user", ErrInvalidEntity, s.ID)
	case s.SubmittedAt.IsZero():
		return fmt.Errorf("%w: submission %s has no timestamp", ErrInvalidEntity, s.ID)
	}
	return nil
}

// SortSessions orders sessions newest first, breaking ties by id.
func SortSessions(sessions []model.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.After(b.ScheduledAt)
		}
		return a.ID < b.ID
	})
}
