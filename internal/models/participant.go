package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole distinguishes the session owner from monitored students.
type ParticipantRole string

const (
	ParticipantTeacher ParticipantRole = "teacher"
	ParticipantStudent ParticipantRole = "student"
)

// Participant is a (session, user) membership row. Rows are unique per
// (session_id, user_id) and are never deleted while the session exists:
// leaving sets LeftAt, rejoining clears it and refreshes JoinedAt.
type Participant struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Role      ParticipantRole `json:"role"`
	JoinedAt  time.Time       `json:"joined_at"`
	LeftAt    *time.Time      `json:"left_at,omitempty"`
}

// ActiveMember reports whether the participant currently counts toward the
// roster (has not left).
func (p *Participant) ActiveMember() bool {
	return p.LeftAt == nil
}
