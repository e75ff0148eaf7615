package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/reports"
	"github.com/classpulse/backend/pkg/queue"
	"github.com/classpulse/backend/pkg/storage"
)

// Worker consumes report archive jobs: it compiles the session report,
// exports the JSON to S3 and records the archive row.
type Worker struct {
	queue    *queue.Queue
	compiler *reports.Compiler
	repo     *reports.Repository
	s3       *storage.S3
	logger   *zap.Logger
}

// New creates a worker.
func New(q *queue.Queue, compiler *reports.Compiler, repo *reports.Repository, s3 *storage.S3, logger *zap.Logger) *Worker {
	return &Worker{queue: q, compiler: compiler, repo: repo, s3: s3, logger: logger}
}

// Run blocks consuming jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("report worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("report worker stopping")
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}
		if err := w.process(ctx, job); err != nil {
			w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if err := w.queue.Retry(ctx, job); err != nil {
				w.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReportArchive:
		var payload queue.ReportArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			// malformed payloads are unrecoverable, drop without retry
			w.logger.Warn("dropping malformed job", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return w.archiveReport(ctx, payload.SessionID)
	default:
		w.logger.Warn("unknown job type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
}

func (w *Worker) archiveReport(ctx context.Context, sessionID uuid.UUID) error {
	rep, err := w.compiler.Compile(ctx, sessionID)
	if errors.Is(err, reports.ErrSessionUnknown) {
		// session row gone, nothing to archive
		w.logger.Warn("archive skipped for unknown session", zap.String("session_id", sessionID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	key := storage.ReportKey(sessionID.String())
	url, err := w.s3.UploadReport(ctx, key, body)
	if err != nil {
		return err
	}

	rec := models.SessionReport{
		ID:         uuid.New(),
		SessionID:  sessionID,
		S3Key:      key,
		S3URL:      url,
		ArchivedAt: time.Now().UTC(),
	}
	if err := w.repo.Save(ctx, &rec); err != nil {
		return err
	}
	w.logger.Info("session report archived",
		zap.String("session_id", sessionID.String()),
		zap.String("key", key),
		zap.Int64("total_events", rep.TotalEvents))
	return nil
}
