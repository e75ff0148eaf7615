package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/models"
)

// Repository handles session and participant persistence. It is the durable
// side of the engine's session registry: the engine owns live state, rows
// here survive restarts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSession inserts a new session row.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (id, teacher_id, title, max_participants, start_time, scheduled_end, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.ID, s.TeacherID, s.Title, s.MaxParticipants, s.StartTime, s.ScheduledEnd, string(s.Status)).
		Scan(&s.CreatedAt, &s.UpdatedAt)
}

// UpdateSessionStatus records a lifecycle transition. end_time is only ever
// written here, together with the status that leaves active.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus, endedAt time.Time) error {
	const q = `UPDATE sessions SET status = $1, end_time = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, string(status), endedAt, id)
	return err
}

// UpsertParticipant inserts or reactivates a membership row. The row is
// unique per (session_id, user_id); rejoin refreshes joined_at and clears
// left_at, leave sets left_at.
func (r *Repository) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO session_participants (id, session_id, user_id, role, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, joined_at = EXCLUDED.joined_at, left_at = EXCLUDED.left_at`
	_, err := r.pool.Exec(ctx, q, p.ID, p.SessionID, p.UserID, string(p.Role), p.JoinedAt, p.LeftAt)
	return err
}

// ActiveSessions returns all sessions still marked active, for recovery on
// startup.
func (r *Repository) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	const q = `SELECT id, teacher_id, title, max_participants, start_time, scheduled_end, end_time, status, created_at, updated_at
		FROM sessions WHERE status = 'active' ORDER BY start_time`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ParticipantsBySession returns all membership rows for a session, including
// participants who have left.
func (r *Repository) ParticipantsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	const q = `SELECT id, session_id, user_id, role, joined_at, left_at
		FROM session_participants WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		var role string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &role, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, err
		}
		p.Role = models.ParticipantRole(role)
		list = append(list, p)
	}
	return list, rows.Err()
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT id, teacher_id, title, max_participants, start_time, scheduled_end, end_time, status, created_at, updated_at
		FROM sessions WHERE id = $1`
	var s models.Session
	var status string
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.TeacherID, &s.Title, &s.MaxParticipants, &s.StartTime, &s.ScheduledEnd, &s.EndTime, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

// List returns sessions, optionally filtered by teacher and/or status.
func (r *Repository) List(ctx context.Context, teacherID *uuid.UUID, status string) ([]models.Session, error) {
	base := `SELECT id, teacher_id, title, max_participants, start_time, scheduled_end, end_time, status, created_at, updated_at FROM sessions`
	var args []interface{}
	var cond string
	if teacherID != nil {
		cond = " WHERE teacher_id = $1"
		args = append(args, *teacherID)
	}
	if status != "" {
		if cond == "" {
			cond = " WHERE status = $1"
		} else {
			cond += " AND status = $2"
		}
		args = append(args, status)
	}
	rows, err := r.pool.Query(ctx, base+cond+" ORDER BY start_time DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// HasParticipant reports whether a membership row exists (left or not). Used
// as the durable access gate for sessions no longer resident in the engine.
func (r *Repository) HasParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2`
	var one int
	err := r.pool.QueryRow(ctx, q, sessionID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSessions(rows pgxRows) ([]models.Session, error) {
	var list []models.Session
	for rows.Next() {
		var s models.Session
		var status string
		if err := rows.Scan(&s.ID, &s.TeacherID, &s.Title, &s.MaxParticipants, &s.StartTime, &s.ScheduledEnd, &s.EndTime, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = models.SessionStatus(status)
		list = append(list, s)
	}
	return list, rows.Err()
}
