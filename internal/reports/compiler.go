package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/models"
)

// ErrSessionUnknown is returned when the session has no durable row.
var ErrSessionUnknown = errors.New("unknown session")

// StudentSummary is the per-student rollup computed from the durable metric
// log.
type StudentSummary struct {
	StudentID      uuid.UUID        `json:"student_id"`
	Count          int64            `json:"count"`
	MeanEngagement float64          `json:"mean_engagement"`
	MinEngagement  float64          `json:"min_engagement"`
	MaxEngagement  float64          `json:"max_engagement"`
	EmotionCounts  map[string]int64 `json:"emotion_counts"`
}

// Report is the compiled session summary exported at archive time and served
// by the report endpoint.
type Report struct {
	SessionID           uuid.UUID            `json:"session_id"`
	Title               string               `json:"title"`
	TeacherID           uuid.UUID            `json:"teacher_id"`
	Status              models.SessionStatus `json:"status"`
	StartTime           time.Time            `json:"start_time"`
	EndTime             *time.Time           `json:"end_time,omitempty"`
	GeneratedAt         time.Time            `json:"generated_at"`
	ParticipantCount    int                  `json:"participant_count"`
	TotalEvents         int64                `json:"total_events"`
	AvgEngagement       float64              `json:"avg_engagement"`
	EmotionDistribution map[string]int64     `json:"emotion_distribution"`
	Students            []StudentSummary     `json:"students"`
	Trend               []engine.TrendBucket `json:"trend"`
}

// LiveSource is the resident-session view the compiler prefers when the
// session is still in memory. *engine.Engine satisfies it.
type LiveSource interface {
	Session(sessionID uuid.UUID) (*models.Session, error)
	LiveSnapshot(sessionID uuid.UUID) (engine.Snapshot, error)
	Trends(sessionID uuid.UUID, limit int) ([]engine.TrendBucket, error)
}

// SessionSource reads durable session and membership rows.
type SessionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ParticipantsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
}

// MetricSource reads the durable metric log and persisted trend buckets.
type MetricSource interface {
	QueryBySession(ctx context.Context, sessionID uuid.UUID) ([]models.MetricRow, error)
	TrendBucketsBySession(ctx context.Context, sessionID uuid.UUID) ([]engine.TrendBucket, error)
}

// Compiler builds session reports from live engine state where resident and
// the durable stores otherwise.
type Compiler struct {
	eng      LiveSource
	sessions SessionSource
	metrics  MetricSource
	now      func() time.Time
}

// NewCompiler creates a report compiler.
func NewCompiler(eng LiveSource, sess SessionSource, met MetricSource) *Compiler {
	return &Compiler{eng: eng, sessions: sess, metrics: met, now: time.Now}
}

// Compile builds the report for a session. A session with no metric data
// yields a well-formed report with zero counts, not an error.
func (c *Compiler) Compile(ctx context.Context, sessionID uuid.UUID) (*Report, error) {
	meta, err := c.sessionMeta(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	participants, err := c.sessions.ParticipantsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	rep := &Report{
		SessionID:           meta.ID,
		Title:               meta.Title,
		TeacherID:           meta.TeacherID,
		Status:              meta.Status,
		StartTime:           meta.StartTime,
		EndTime:             meta.EndTime,
		GeneratedAt:         c.now().UTC(),
		ParticipantCount:    len(participants),
		EmotionDistribution: map[string]int64{},
		Students:            []StudentSummary{},
		Trend:               []engine.TrendBucket{},
	}

	rows, err := c.metrics.QueryBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load metric log: %w", err)
	}
	c.fillFromLog(rep, rows)

	// Resident sessions carry live totals the async log append may still be
	// catching up to; prefer the aggregate view for the headline numbers.
	if snap, err := c.eng.LiveSnapshot(sessionID); err == nil && snap.TotalEvents >= rep.TotalEvents {
		rep.TotalEvents = snap.TotalEvents
		rep.AvgEngagement = snap.AvgEngagement
		rep.EmotionDistribution = snap.EmotionDistribution
	}

	if trend, err := c.eng.Trends(sessionID, 0); err == nil && len(trend) > 0 {
		rep.Trend = trend
	} else if persisted, err := c.metrics.TrendBucketsBySession(ctx, sessionID); err == nil && len(persisted) > 0 {
		rep.Trend = persisted
	}

	return rep, nil
}

func (c *Compiler) sessionMeta(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	if meta, err := c.eng.Session(sessionID); err == nil {
		return meta, nil
	}
	meta, err := c.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return meta, nil
}

func (c *Compiler) fillFromLog(rep *Report, rows []models.MetricRow) {
	byStudent := make(map[uuid.UUID]*StudentSummary)
	var order []uuid.UUID
	var sum float64
	for _, m := range rows {
		rep.TotalEvents++
		sum += m.EngagementScore
		rep.EmotionDistribution[m.Emotion]++

		s := byStudent[m.StudentID]
		if s == nil {
			s = &StudentSummary{
				StudentID:     m.StudentID,
				MinEngagement: m.EngagementScore,
				MaxEngagement: m.EngagementScore,
				EmotionCounts: map[string]int64{},
			}
			byStudent[m.StudentID] = s
			order = append(order, m.StudentID)
		}
		s.Count++
		s.MeanEngagement += (m.EngagementScore - s.MeanEngagement) / float64(s.Count)
		if m.EngagementScore < s.MinEngagement {
			s.MinEngagement = m.EngagementScore
		}
		if m.EngagementScore > s.MaxEngagement {
			s.MaxEngagement = m.EngagementScore
		}
		s.EmotionCounts[m.Emotion]++
	}
	if rep.TotalEvents > 0 {
		rep.AvgEngagement = sum / float64(rep.TotalEvents)
	}
	for _, id := range order {
		rep.Students = append(rep.Students, *byStudent[id])
	}
}
