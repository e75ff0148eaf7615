package metrics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/models"
)

// Repository is the durable metric log. Appends come from the engine's async
// writer; reads serve reports and history endpoints.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a metrics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendMetric inserts one observation into the append-only log.
func (r *Repository) AppendMetric(ctx context.Context, ev engine.MetricEvent) error {
	const q = `INSERT INTO engagement_metrics (id, session_id, student_id, emotion, confidence, engagement_score, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, q, uuid.New(), ev.SessionID, ev.StudentID, ev.Emotion, ev.Confidence, ev.EngagementScore, ev.Timestamp)
	return err
}

// SaveTrendBuckets upserts the final trend buckets persisted at session end.
func (r *Repository) SaveTrendBuckets(ctx context.Context, buckets []engine.TrendBucket) error {
	const q = `INSERT INTO session_trend_buckets (session_id, bucket_start, event_count, avg_engagement)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, bucket_start)
		DO UPDATE SET event_count = EXCLUDED.event_count, avg_engagement = EXCLUDED.avg_engagement`
	for _, b := range buckets {
		if _, err := r.pool.Exec(ctx, q, b.SessionID, b.BucketStart, b.EventCount, b.AvgEngagement); err != nil {
			return err
		}
	}
	return nil
}

// QueryBySession returns the full metric log for a session ordered by event
// time.
func (r *Repository) QueryBySession(ctx context.Context, sessionID uuid.UUID) ([]models.MetricRow, error) {
	const q = `SELECT id, session_id, student_id, emotion, confidence, engagement_score, ts, created_at
		FROM engagement_metrics WHERE session_id = $1 ORDER BY ts`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// QueryByStudent returns one student's observations within a session, ordered
// by event time.
func (r *Repository) QueryByStudent(ctx context.Context, sessionID, studentID uuid.UUID) ([]models.MetricRow, error) {
	const q = `SELECT id, session_id, student_id, emotion, confidence, engagement_score, ts, created_at
		FROM engagement_metrics WHERE session_id = $1 AND student_id = $2 ORDER BY ts`
	rows, err := r.pool.Query(ctx, q, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// TrendBucketsBySession returns persisted trend buckets oldest-first.
func (r *Repository) TrendBucketsBySession(ctx context.Context, sessionID uuid.UUID) ([]engine.TrendBucket, error) {
	const q = `SELECT session_id, bucket_start, event_count, avg_engagement
		FROM session_trend_buckets WHERE session_id = $1 ORDER BY bucket_start`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.TrendBucket
	for rows.Next() {
		var b engine.TrendBucket
		if err := rows.Scan(&b.SessionID, &b.BucketStart, &b.EventCount, &b.AvgEngagement); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMetrics(rows rowScanner) ([]models.MetricRow, error) {
	var out []models.MetricRow
	for rows.Next() {
		var m models.MetricRow
		if err := rows.Scan(&m.ID, &m.SessionID, &m.StudentID, &m.Emotion, &m.Confidence, &m.EngagementScore, &m.Timestamp, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
