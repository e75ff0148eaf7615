package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a learning session.
// Transitions are one-way: active -> ended, or active -> cancelled.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// Session represents a teacher-owned learning session during which students
// are monitored. EndTime is set exactly when the session leaves the active
// state; ScheduledEnd is the planned end used by the overdue sweep.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	TeacherID       uuid.UUID     `json:"teacher_id"`
	Title           string        `json:"title"`
	MaxParticipants int           `json:"max_participants"`
	StartTime       time.Time     `json:"start_time"`
	ScheduledEnd    time.Time     `json:"scheduled_end"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Active reports whether the session still accepts joins and metric events.
func (s *Session) Active() bool {
	return s.Status == SessionActive
}
