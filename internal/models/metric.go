package models

import (
	"time"

	"github.com/google/uuid"
)

// MetricRow is one durable engagement observation. The engagement_metrics
// table is append-only: rows are never updated or deleted.
type MetricRow struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	StudentID       uuid.UUID `json:"student_id"`
	Emotion         string    `json:"emotion"`
	Confidence      float64   `json:"confidence"`
	EngagementScore float64   `json:"engagement_score"` // canonical 0-100 scale
	Timestamp       time.Time `json:"timestamp"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionReport is the archive record written after a session's report has
// been compiled and exported.
type SessionReport struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	S3Key      string    `json:"s3_key"`
	S3URL      string    `json:"s3_url"`
	ArchivedAt time.Time `json:"archived_at"`
}
