package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/inference"
	"github.com/classpulse/backend/internal/middleware"
	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/sessions"
	"github.com/classpulse/backend/pkg/response"
)

// Telemetry counts events rejected before they reach the engine, so boundary
// validation failures show up alongside the engine's own rejections.
type Telemetry interface {
	EventRejected(reason string)
}

// Handler handles engagement metric HTTP endpoints.
type Handler struct {
	eng       *engine.Engine
	repo      *Repository
	cache     *Cache
	inference *inference.Client
	tel       Telemetry
	logger    *zap.Logger
}

// NewHandler creates a metrics handler. cache, inference and tel may be nil.
func NewHandler(eng *engine.Engine, repo *Repository, cache *Cache, inf *inference.Client, tel Telemetry, logger *zap.Logger) *Handler {
	return &Handler{eng: eng, repo: repo, cache: cache, inference: inf, tel: tel, logger: logger}
}

// IngestRequest is the body for POST /sessions/:id/metrics.
type IngestRequest struct {
	Emotion         string    `json:"emotion" binding:"required"`
	Confidence      float64   `json:"confidence"`
	EngagementScore float64   `json:"engagement_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// FrameRequest is the body for POST /sessions/:id/frames.
type FrameRequest struct {
	Image string `json:"image" binding:"required"` // base64-encoded frame
}

// Ingest handles POST /sessions/:id/metrics. The submitting student is the
// authenticated user; there is no submitting on behalf of someone else.
func (h *Handler) Ingest(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	studentID := currentUser(c)

	ev, err := engine.NewMetricEvent(sessionID, studentID, req.Emotion, req.Confidence, req.EngagementScore, req.Timestamp)
	if err != nil {
		h.rejected("invalid")
		sessions.WriteEngineError(c, err)
		return
	}
	if err := h.eng.Ingest(c.Request.Context(), ev); err != nil {
		sessions.WriteEngineError(c, err)
		return
	}
	h.cacheReading(c, ev)
	response.OK(c, gin.H{"accepted": true})
}

// IngestFrame handles POST /sessions/:id/frames: the frame goes to the
// inference service, and the detection result is ingested as a metric event.
// An inference failure yields no observation for this frame, not an error in
// the session stream.
func (h *Handler) IngestFrame(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	if !h.inference.Enabled() {
		response.ServiceUnavailable(c, "inference service not configured")
		return
	}
	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	studentID := currentUser(c)

	det, err := h.inference.DetectEmotion(c.Request.Context(), req.Image, sessionID, studentID)
	if err != nil {
		h.logger.Warn("frame inference failed",
			zap.String("session_id", sessionID.String()),
			zap.String("student_id", studentID.String()),
			zap.Error(err))
		response.OK(c, gin.H{"accepted": false, "reason": "inference unavailable"})
		return
	}

	ev, err := engine.NewMetricEvent(sessionID, studentID, det.Emotion, det.Confidence, det.EngagementScore*engine.EngagementMax, time.Time{})
	if err != nil {
		h.rejected("invalid")
		sessions.WriteEngineError(c, err)
		return
	}
	if err := h.eng.Ingest(c.Request.Context(), ev); err != nil {
		sessions.WriteEngineError(c, err)
		return
	}
	h.cacheReading(c, ev)
	response.OK(c, gin.H{"accepted": true, "emotion": ev.Emotion, "engagement_score": ev.EngagementScore})
}

// Snapshot handles GET /sessions/:id/snapshot.
func (h *Handler) Snapshot(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	snap, err := h.eng.LiveSnapshot(sessionID)
	if err != nil {
		sessions.WriteEngineError(c, err)
		return
	}
	response.OK(c, snap)
}

// Trends handles GET /sessions/:id/trends?limit=N. Resident sessions serve
// from memory; ended ones fall back to the persisted buckets.
func (h *Handler) Trends(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	buckets, err := h.eng.Trends(sessionID, limit)
	if err == nil {
		response.OK(c, buckets)
		return
	}
	buckets, dbErr := h.repo.TrendBucketsBySession(c.Request.Context(), sessionID)
	if dbErr != nil {
		h.logger.Error("load trend buckets failed", zap.String("session_id", sessionID.String()), zap.Error(dbErr))
		response.Internal(c, "failed to load trends")
		return
	}
	if limit > 0 && len(buckets) > limit {
		buckets = buckets[len(buckets)-limit:]
	}
	response.OK(c, buckets)
}

// StudentEngagement handles GET /sessions/:id/students/:studentID/engagement.
// The cached last reading is served when fresh; otherwise the durable log is
// consulted for the student's most recent row.
func (h *Handler) StudentEngagement(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	studentID, err := uuid.Parse(c.Param("studentID"))
	if err != nil {
		response.BadRequest(c, "invalid student id")
		return
	}
	role, _ := c.Get(middleware.ContextUserRole)
	if role == string(models.RoleStudent) && currentUser(c) != studentID {
		response.Forbidden(c, "students may only read their own engagement")
		return
	}

	if h.cache != nil {
		if r, err := h.cache.Get(c.Request.Context(), sessionID, studentID); err == nil && r != nil {
			response.OK(c, r)
			return
		}
	}
	rows, err := h.repo.QueryByStudent(c.Request.Context(), sessionID, studentID)
	if err != nil {
		h.logger.Error("load student metrics failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "failed to load student metrics")
		return
	}
	if len(rows) == 0 {
		response.NotFound(c, "no engagement data for student")
		return
	}
	last := rows[len(rows)-1]
	response.OK(c, CachedReading{
		Emotion:         last.Emotion,
		Confidence:      last.Confidence,
		EngagementScore: last.EngagementScore,
		Timestamp:       last.Timestamp,
	})
}

// History handles GET /sessions/:id/metrics: the raw durable log for a
// session, ordered by event time.
func (h *Handler) History(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	rows, err := h.repo.QueryBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("load metric log failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "failed to load metrics")
		return
	}
	response.OK(c, rows)
}

func (h *Handler) rejected(reason string) {
	if h.tel != nil {
		h.tel.EventRejected(reason)
	}
}

func (h *Handler) cacheReading(c *gin.Context, ev engine.MetricEvent) {
	if h.cache == nil {
		return
	}
	r := CachedReading{
		Emotion:         ev.Emotion,
		Confidence:      ev.Confidence,
		EngagementScore: ev.EngagementScore,
		Timestamp:       ev.Timestamp,
	}
	if err := h.cache.Set(c.Request.Context(), ev.SessionID, ev.StudentID, r); err != nil {
		h.logger.Warn("cache reading failed", zap.String("session_id", ev.SessionID.String()), zap.Error(err))
	}
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func currentUser(c *gin.Context) uuid.UUID {
	v, _ := c.Get(middleware.ContextUserID)
	id, _ := v.(uuid.UUID)
	return id
}
