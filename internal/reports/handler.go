package reports

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/pkg/response"
	"github.com/classpulse/backend/pkg/storage"
)

// Handler handles report HTTP endpoints.
type Handler struct {
	compiler *Compiler
	repo     *Repository
	s3       *storage.S3
	logger   *zap.Logger
}

// NewHandler creates a reports handler. s3 may be nil when archival is not
// configured.
func NewHandler(compiler *Compiler, repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{compiler: compiler, repo: repo, s3: s3, logger: logger}
}

// Get handles GET /sessions/:id/report: the report is compiled on demand, so
// it works for live sessions as a mid-flight summary too.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	rep, err := h.compiler.Compile(c.Request.Context(), id)
	if errors.Is(err, ErrSessionUnknown) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("compile report failed", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to compile report")
		return
	}
	response.OK(c, rep)
}

// Archive handles GET /sessions/:id/report/archive: returns the archive
// record with a presigned download URL when the report has been exported.
func (h *Handler) Archive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	rec, err := h.repo.GetBySession(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "report not archived")
		return
	}
	out := gin.H{"report": rec}
	if h.s3 != nil {
		if url, err := h.s3.PresignDownload(c.Request.Context(), rec.S3Key); err == nil {
			out["download_url"] = url
		} else {
			h.logger.Warn("presign report download failed", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
	response.OK(c, out)
}
