package reports

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/models"
)

// Repository stores archive records for compiled reports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save upserts the archive record for a session. Re-archiving replaces the
// previous record.
func (r *Repository) Save(ctx context.Context, rec *models.SessionReport) error {
	const q = `INSERT INTO session_reports (id, session_id, s3_key, s3_url, archived_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id)
		DO UPDATE SET s3_key = EXCLUDED.s3_key, s3_url = EXCLUDED.s3_url, archived_at = EXCLUDED.archived_at`
	_, err := r.pool.Exec(ctx, q, rec.ID, rec.SessionID, rec.S3Key, rec.S3URL, rec.ArchivedAt)
	return err
}

// GetBySession returns the archive record for a session.
func (r *Repository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.SessionReport, error) {
	const q = `SELECT id, session_id, s3_key, s3_url, archived_at
		FROM session_reports WHERE session_id = $1`
	var rec models.SessionReport
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&rec.ID, &rec.SessionID, &rec.S3Key, &rec.S3URL, &rec.ArchivedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
