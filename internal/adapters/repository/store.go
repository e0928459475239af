// Package repository holds the entity stores rules query.
package repository

import (
	"context"

	"github.com/okian/insights/internal/domain/model"
)

// Reader is the read side rules consume.
type Reader interface {
	Circles(ctx context.Context, q model.CircleQuery) ([]model.Circle, error)
	Submissions(ctx context.Context, q model.SubmissionQuery) ([]model.MissionSubmission, error)
	Missions(ctx context.Context, q model.MissionQuery) ([]model.Mission, error)
	Users(ctx context.Context, q model.UserQuery) ([]model.User, error)
}

// Writer loads snapshots into a store. Saving an existing id replaces it.
type Writer interface {
	SaveUser(ctx context.Context, u model.User) error
	// SaveCircle stores the circle with its members and sessions.
	SaveCircle(ctx context.Context, c model.Circle) error
	// AddMember returns ErrNotFound when the circle is unknown.
	AddMember(ctx context.Context, circleID string, m model.Member) error
	// SaveSession returns ErrNotFound when the circle is unknown.
	SaveSession(ctx context.Context, s model.Session) error
	SaveMission(ctx context.Context, m model.Mission) error
	SaveSubmission(ctx context.Context, s model.MissionSubmission) error
}

// Store is a readable, writable entity store.
type Store interface {
	Reader
	Writer
	Close() error
}
