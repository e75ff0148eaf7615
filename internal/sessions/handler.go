package sessions

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/middleware"
	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/pkg/response"
)

// Handler handles session lifecycle HTTP endpoints.
type Handler struct {
	eng    *engine.Engine
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(eng *engine.Engine, repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{eng: eng, repo: repo, logger: logger}
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title           string    `json:"title" binding:"required"`
	MaxParticipants int       `json:"max_participants" binding:"required"`
	StartTime       time.Time `json:"start_time"`
	ScheduledEnd    time.Time `json:"scheduled_end" binding:"required"`
}

// EndRequest is the optional body for POST /sessions/:id/end.
type EndRequest struct {
	Cancel bool `json:"cancel"`
}

// Create handles POST /sessions. Teacher or admin only (enforced by route
// middleware).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := currentUser(c)
	start := req.StartTime
	if start.IsZero() {
		start = time.Now().UTC()
	}

	sess, err := h.eng.CreateSession(c.Request.Context(), userID, req.Title, req.MaxParticipants, start, req.ScheduledEnd)
	if err != nil {
		WriteEngineError(c, err)
		return
	}
	response.Created(c, sess)
}

// List handles GET /sessions. Teachers see their own sessions by default;
// ?all=true (admin) or ?status=active filter the durable listing.
func (h *Handler) List(c *gin.Context) {
	role, _ := c.Get(middleware.ContextUserRole)
	var teacherID *uuid.UUID
	if role == string(models.RoleTeacher) && c.Query("all") == "" {
		id := currentUser(c)
		teacherID = &id
	}
	list, err := h.repo.List(c.Request.Context(), teacherID, c.Query("status"))
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /sessions/:id. Resident sessions come from the engine
// so status reflects live state; ended ones fall back to the database.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if sess, err := h.eng.Session(id); err == nil {
		response.OK(c, sess)
		return
	}
	sess, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, sess)
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := currentUser(c)

	role := models.ParticipantStudent
	if sess, err := h.eng.Session(id); err == nil && sess.TeacherID == userID {
		role = models.ParticipantTeacher
	}
	p, err := h.eng.Join(c.Request.Context(), id, userID, role)
	if err != nil {
		WriteEngineError(c, err)
		return
	}
	response.OK(c, p)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if err := h.eng.Leave(c.Request.Context(), id, currentUser(c)); err != nil {
		WriteEngineError(c, err)
		return
	}
	response.OK(c, gin.H{"left": true})
}

// End handles POST /sessions/:id/end. Owning teacher or admin only.
func (h *Handler) End(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var req EndRequest
	_ = c.ShouldBindJSON(&req)

	role, _ := c.Get(middleware.ContextUserRole)
	admin := role == string(models.RoleAdmin)
	sess, err := h.eng.End(c.Request.Context(), id, currentUser(c), admin, req.Cancel)
	if err != nil {
		WriteEngineError(c, err)
		return
	}
	response.OK(c, sess)
}

// Roster handles GET /sessions/:id/participants.
func (h *Handler) Roster(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if roster, err := h.eng.Roster(id); err == nil {
		response.OK(c, roster)
		return
	}
	roster, err := h.repo.ParticipantsBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load participants failed", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load participants")
		return
	}
	response.OK(c, roster)
}

// RequireMember gates session-scoped routes on membership. Resident sessions
// use the engine roster; sessions already evicted fall back to the durable
// participant rows. Admins pass through.
func RequireMember(eng *engine.Engine, repo *Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionParam(c)
		if !ok {
			c.Abort()
			return
		}
		role, _ := c.Get(middleware.ContextUserRole)
		if role == string(models.RoleAdmin) {
			c.Next()
			return
		}
		userID := currentUser(c)
		if eng.IsMember(id, userID) {
			c.Next()
			return
		}
		member, err := repo.HasParticipant(c.Request.Context(), id, userID)
		if err != nil {
			response.Internal(c, "failed to check membership")
			c.Abort()
			return
		}
		if !member {
			response.Forbidden(c, "not a session participant")
			c.Abort()
			return
		}
		c.Next()
	}
}

// WriteEngineError maps engine error kinds to HTTP responses.
func WriteEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, engine.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, engine.ErrNotMember):
		response.Forbidden(c, err.Error())
	case errors.Is(err, engine.ErrNotActive),
		errors.Is(err, engine.ErrAlreadyEnded),
		errors.Is(err, engine.ErrAlreadyMember),
		errors.Is(err, engine.ErrSessionFull):
		response.Conflict(c, err.Error())
	default:
		response.Internal(c, "internal error")
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
