// Package sqlite provides a SQLite-backed entity store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/insights/internal/adapters/repository"
	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/pkg/metrics"
)

//go:embed schema.sql
var schema string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists entity snapshots in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ repository.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// untilMillis maps an open (zero) upper bound to the largest instant.
func untilMillis(value time.Time) int64 {
	if value.IsZero() {
		return math.MaxInt64
	}
	return toMillis(value)
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies the embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := MemoryPath
	if path != MemoryPath {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveUser upserts u and replaces its roles.
func (s *Store) SaveUser(ctx context.Context, u model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateUser(u); err != nil {
		return err
	}
	return s.inTx(ctx, "save user", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, first_name, last_name, region_id) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name, region_id = excluded.region_id`,
			u.ID, u.FirstName, u.LastName, u.RegionID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, u.ID); err != nil {
			return err
		}
		for _, role := range u.Roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, u.ID, role,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveCircle upserts c, replaces its members and merges its sessions.
func (s *Store) SaveCircle(ctx context.Context, c model.Circle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateCircle(c); err != nil {
		return err
	}
	return s.inTx(ctx, "save circle", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO circles (id, name, region_id, captain_id, captain_first_name, captain_last_name)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, region_id = excluded.region_id,
			   captain_id = excluded.captain_id, captain_first_name = excluded.captain_first_name,
			   captain_last_name = excluded.captain_last_name`,
			c.ID, c.Name, c.RegionID, c.Captain.ID, c.Captain.FirstName, c.Captain.LastName,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM circle_members WHERE circle_id = ?`, c.ID); err != nil {
			return err
		}
		for i, m := range c.Members {
			if err := insertMember(ctx, tx, c.ID, m, i); err != nil {
				return err
			}
		}
		for _, sess := range c.Sessions {
			sess.CircleID = c.ID
			if err := upsertSession(ctx, tx, sess); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddMember appends or moves m to the end of circleID's members.
func (s *Store) AddMember(ctx context.Context, circleID string, m model.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateMember(m); err != nil {
		return err
	}
	return s.inTx(ctx, "add member", func(tx *sql.Tx) error {
		if err := circleExists(ctx, tx, circleID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM circle_members WHERE circle_id = ? AND user_id = ?`, circleID, m.ID,
		); err != nil {
			return err
		}
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM circle_members WHERE circle_id = ?`, circleID,
		).Scan(&next); err != nil {
			return err
		}
		return insertMember(ctx, tx, circleID, m, next)
	})
}

// SaveSession upserts a session of an existing circle with its attendance.
func (s *Store) SaveSession(ctx context.Context, sess model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateSession(sess); err != nil {
		return err
	}
	return s.inTx(ctx, "save session", func(tx *sql.Tx) error {
		if err := circleExists(ctx, tx, sess.CircleID); err != nil {
			return err
		}
		return upsertSession(ctx, tx, sess)
	})
}

// SaveMission upserts m.
func (s *Store) SaveMission(ctx context.Context, m model.Mission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateMission(m); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO missions (id, title, region_id, starts_at, ends_at, target_submissions)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, region_id = excluded.region_id,
		   starts_at = excluded.starts_at, ends_at = excluded.ends_at,
		   target_submissions = excluded.target_submissions`,
		m.ID, m.Title, m.RegionID, toMillis(m.StartsAt), toMillis(m.EndsAt), m.TargetSubmissions,
	)
	if err != nil {
		return fmt.Errorf("save mission: %w", err)
	}
	return nil
}

// SaveSubmission upserts sub.
func (s *Store) SaveSubmission(ctx context.Context, sub model.MissionSubmission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateSubmission(sub); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO submissions (id, mission_id, user_id, submitted_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET mission_id = excluded.mission_id, user_id = excluded.user_id,
		   submitted_at = excluded.submitted_at`,
		sub.ID, sub.MissionID, sub.UserID, toMillis(sub.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

// Circles loads matching circles with members and in-window sessions.
func (s *Store) Circles(ctx context.Context, q model.CircleQuery) (out []model.Circle, err error) {
	defer observe("circles", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, region_id, captain_id, captain_first_name, captain_last_name
		 FROM circles WHERE (? = '' OR region_id = ?) ORDER BY rowid`,
		q.RegionID, q.RegionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query circles: %w", err)
	}
	out = []model.Circle{}
	index := map[string]int{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var c model.Circle
		if err := r.Scan(&c.ID, &c.Name, &c.RegionID, &c.Captain.ID, &c.Captain.FirstName, &c.Captain.LastName); err != nil {
			return err
		}
		c.Members = []model.Member{}
		c.Sessions = []model.Session{}
		index[c.ID] = len(out)
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan circles: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.loadMembers(ctx, q.RegionID, out, index); err != nil {
		return nil, err
	}
	if err := s.loadSessions(ctx, q, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadMembers(ctx context.Context, regionID string, out []model.Circle, index map[string]int) error {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT m.circle_id, m.user_id, m.first_name, m.last_name, m.joined_at
		 FROM circle_members m JOIN circles c ON c.id = m.circle_id
		 WHERE (? = '' OR c.region_id = ?)
		 ORDER BY m.circle_id, m.position`,
		regionID, regionID,
	)
	if err != nil {
		return fmt.Errorf("query members: %w", err)
	}
	err = scanRows(rows, func(r *sql.Rows) error {
		var (
			circleID string
			m        model.Member
			joined   int64
		)
		if err := r.Scan(&circleID, &m.ID, &m.FirstName, &m.LastName, &joined); err != nil {
			return err
		}
		m.JoinedAt = fromMillis(joined)
		if i, ok := index[circleID]; ok {
			out[i].Members = append(out[i].Members, m)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan members: %w", err)
	}
	return nil
}

func (s *Store) loadSessions(ctx context.Context, q model.CircleQuery, out []model.Circle, index map[string]int) error {
	since, until := toMillis(q.SessionsSince), untilMillis(q.SessionsUntil)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT s.id, s.circle_id, s.scheduled_at
		 FROM sessions s JOIN circles c ON c.id = s.circle_id
		 WHERE (? = '' OR c.region_id = ?) AND s.scheduled_at BETWEEN ? AND ?
		 ORDER BY s.scheduled_at DESC, s.id`,
		q.RegionID, q.RegionID, since, until,
	)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	type pos struct{ circle, session int }
	where := map[string]pos{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var (
			sess      model.Session
			scheduled int64
		)
		if err := r.Scan(&sess.ID, &sess.CircleID, &scheduled); err != nil {
			return err
		}
		sess.ScheduledAt = fromMillis(scheduled)
		sess.Attendance = []model.AttendanceRecord{}
		i, ok := index[sess.CircleID]
		if !ok {
			return nil
		}
		where[sess.ID] = pos{circle: i, session: len(out[i].Sessions)}
		out[i].Sessions = append(out[i].Sessions, sess)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan sessions: %w", err)
	}
	if len(where) == 0 {
		return nil
	}

	rows, err = s.sqlDB.QueryContext(ctx,
		`SELECT a.session_id, a.user_id, a.status
		 FROM attendance a
		 JOIN sessions s ON s.id = a.session_id
		 JOIN circles c ON c.id = s.circle_id
		 WHERE (? = '' OR c.region_id = ?) AND s.scheduled_at BETWEEN ? AND ?
		 ORDER BY a.rowid`,
		q.RegionID, q.RegionID, since, until,
	)
	if err != nil {
		return fmt.Errorf("query attendance: %w", err)
	}
	err = scanRows(rows, func(r *sql.Rows) error {
		var a model.AttendanceRecord
		if err := r.Scan(&a.SessionID, &a.UserID, &a.Status); err != nil {
			return err
		}
		p, ok := where[a.SessionID]
		if !ok {
			return nil
		}
		sess := &out[p.circle].Sessions[p.session]
		sess.Attendance = append(sess.Attendance, a)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan attendance: %w", err)
	}
	return nil
}

// Submissions returns matching submissions, newest first.
func (s *Store) Submissions(ctx context.Context, q model.SubmissionQuery) (out []model.MissionSubmission, err error) {
	defer observe("submissions", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT id, mission_id, user_id, submitted_at FROM submissions WHERE submitted_at BETWEEN ? AND ?`
	args := []any{toMillis(q.Since), untilMillis(q.Until)}
	query, args = appendIn(query, args, "user_id", q.UserIDs)
	query, args = appendIn(query, args, "mission_id", q.MissionIDs)
	query += ` ORDER BY submitted_at DESC, id`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	out = []model.MissionSubmission{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var (
			sub       model.MissionSubmission
			submitted int64
		)
		if err := r.Scan(&sub.ID, &sub.MissionID, &sub.UserID, &submitted); err != nil {
			return err
		}
		sub.SubmittedAt = fromMillis(submitted)
		out = append(out, sub)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan submissions: %w", err)
	}
	return out, nil
}

// Missions returns matching missions in insertion order.
func (s *Store) Missions(ctx context.Context, q model.MissionQuery) (out []model.Mission, err error) {
	defer observe("missions", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT id, title, region_id, starts_at, ends_at, target_submissions FROM missions WHERE (? = '' OR region_id = ?)`
	args := []any{q.RegionID, q.RegionID}
	if !q.ActiveAt.IsZero() {
		at := toMillis(q.ActiveAt)
		query += ` AND starts_at <= ? AND ends_at > ?`
		args = append(args, at, at)
	}
	query += ` ORDER BY rowid`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query missions: %w", err)
	}
	out = []model.Mission{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var (
			m            model.Mission
			starts, ends int64
		)
		if err := r.Scan(&m.ID, &m.Title, &m.RegionID, &starts, &ends, &m.TargetSubmissions); err != nil {
			return err
		}
		m.StartsAt, m.EndsAt = fromMillis(starts), fromMillis(ends)
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan missions: %w", err)
	}
	return out, nil
}

// Users returns matching users with their roles, in insertion order.
func (s *Store) Users(ctx context.Context, q model.UserQuery) (out []model.User, err error) {
	defer observe("users", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT id, first_name, last_name, region_id FROM users u WHERE (? = '' OR region_id = ?)`
	args := []any{q.RegionID, q.RegionID}
	if q.Role != "" {
		query += ` AND EXISTS (SELECT 1 FROM user_roles r WHERE r.user_id = u.id AND r.role = ?)`
		args = append(args, q.Role)
	}
	query, args = appendIn(query, args, "id", q.IDs)
	query += ` ORDER BY rowid`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	out = []model.User{}
	index := map[string]int{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var u model.User
		if err := r.Scan(&u.ID, &u.FirstName, &u.LastName, &u.RegionID); err != nil {
			return err
		}
		index[u.ID] = len(out)
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, u := range out {
		ids[i] = u.ID
	}
	roleQuery, roleArgs := appendIn(`SELECT user_id, role FROM user_roles WHERE 1 = 1`, nil, "user_id", ids)
	rows, err = s.sqlDB.QueryContext(ctx, roleQuery+` ORDER BY rowid`, roleArgs...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	err = scanRows(rows, func(r *sql.Rows) error {
		var userID, role string
		if err := r.Scan(&userID, &role); err != nil {
			return err
		}
		if i, ok := index[userID]; ok {
			out[i].Roles = append(out[i].Roles, role)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan roles: %w", err)
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func circleExists(ctx context.Context, tx *sql.Tx, circleID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM circles WHERE id = ?`, circleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return fmt.Errorf("%w: circle %s", repository.ErrNotFound, circleID)
	}
	return err
}

func insertMember(ctx context.Context, tx *sql.Tx, circleID string, m model.Member, position int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO circle_members (circle_id, user_id, first_name, last_name, joined_at, position)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		circleID, m.ID, m.FirstName, m.LastName, toMillis(m.JoinedAt), position,
	)
	return err
}

func upsertSession(ctx context.Context, tx *sql.Tx, sess model.Session) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, circle_id, scheduled_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET circle_id = excluded.circle_id, scheduled_at = excluded.scheduled_at`,
		sess.ID, sess.CircleID, toMillis(sess.ScheduledAt),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE session_id = ?`, sess.ID); err != nil {
		return err
	}
	for _, a := range sess.Attendance {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO attendance (session_id, user_id, status) VALUES (?, ?, ?)`,
			sess.ID, a.UserID, a.Status,
		); err != nil {
			return err
		}
	}
	return nil
}

// appendIn adds "AND column IN (...)" when values is non-empty.
func appendIn(query string, args []any, column string, values []string) (string, []any) {
	if len(values) == 0 {
		return query, args
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	query += " AND " + column + " IN (" + marks + ")"
	for _, v := range values {
		args = append(args, v)
	}
	return query, args
}

func scanRows(rows *sql.Rows, fn func(*sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func observe(query string, start time.Time, err *error) {
	metrics.RecordStoreQuery("sqlite_"+query, float64(time.Since(start).Microseconds())/1000, *err)
}
