package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
)

// CreateSession opens a new active session owned by teacherID and auto-adds
// the teacher as a participant. Role checks (teacher/admin) belong to the
// caller; the engine validates the request shape.
func (e *Engine) CreateSession(ctx context.Context, teacherID uuid.UUID, title string, maxParticipants int, start, end time.Time) (*models.Session, error) {
	if teacherID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing teacher id", ErrValidation)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if maxParticipants <= 0 {
		return nil, fmt.Errorf("%w: max_participants must be positive", ErrInvalidRange)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidRange)
	}

	now := e.now()
	sess := models.Session{
		ID:              uuid.New(),
		TeacherID:       teacherID,
		Title:           strings.TrimSpace(title),
		MaxParticipants: maxParticipants,
		StartTime:       start,
		ScheduledEnd:    end,
		Status:          models.SessionActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateSession(ctx, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	owner := models.Participant{
		ID:        uuid.New(),
		SessionID: sess.ID,
		UserID:    teacherID,
		Role:      models.ParticipantTeacher,
		JoinedAt:  now,
	}
	if err := e.store.UpsertParticipant(ctx, &owner); err != nil {
		e.logger.Error("persist owner membership failed", zap.String("session_id", sess.ID.String()), zap.Error(err))
	}

	st := &sessionState{
		meta:   sess,
		roster: map[uuid.UUID]*models.Participant{teacherID: &owner},
		live:   NewLiveAggregate(sess.ID, e.cfg.OnlineWindow),
		trends: NewTrendSeries(sess.ID, e.cfg.BucketWidth, e.cfg.MaxTrendBuckets),
	}
	e.mu.Lock()
	e.sessions[sess.ID] = st
	e.mu.Unlock()

	e.tel.SetActiveSessions(int(e.activeSessions.Add(1)))
	e.logger.Info("session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("teacher_id", teacherID.String()),
		zap.Int("max_participants", maxParticipants))
	return &sess, nil
}

// Join adds a user to an active session. Rejoin after leave is allowed: the
// existing row is reactivated with a refreshed JoinedAt. Student joins beyond
// MaxParticipants fail with ErrSessionFull; the owning teacher does not count
// toward the cap.
func (e *Engine) Join(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, ErrNotFound
	}

	st.mu.Lock()
	if !st.meta.Active() {
		st.mu.Unlock()
		return nil, ErrNotActive
	}
	now := e.now()
	p := st.roster[userID]
	switch {
	case p != nil && p.ActiveMember():
		st.mu.Unlock()
		return nil, ErrAlreadyMember
	case p != nil:
		// rejoin: reactivate the retained row
		if role == models.ParticipantStudent && st.activeStudentsLocked() >= st.meta.MaxParticipants {
			st.mu.Unlock()
			return nil, ErrSessionFull
		}
		p.LeftAt = nil
		p.JoinedAt = now
		p.Role = role
	default:
		if role == models.ParticipantStudent && st.activeStudentsLocked() >= st.meta.MaxParticipants {
			st.mu.Unlock()
			return nil, ErrSessionFull
		}
		p = &models.Participant{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    userID,
			Role:      role,
			JoinedAt:  now,
		}
		st.roster[userID] = p
	}
	row := *p
	st.mu.Unlock()

	go e.persistParticipant(row)
	e.publishStatus(sessionID, "participant_joined", userID)
	return &row, nil
}

// Leave marks the user's membership as left; the row is retained for audit.
func (e *Engine) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	st := e.lookup(sessionID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	p := st.roster[userID]
	if p == nil || !p.ActiveMember() {
		st.mu.Unlock()
		return ErrNotMember
	}
	now := e.now()
	p.LeftAt = &now
	row := *p
	st.mu.Unlock()

	go e.persistParticipant(row)
	e.publishStatus(sessionID, "participant_left", userID)
	return nil
}

// End transitions the session out of the active state, flushes the live
// aggregate, persists trend buckets and publishes the final snapshot. Only
// the owning teacher or an admin may end a session; the engine's own sweep
// calls with admin=true.
func (e *Engine) End(ctx context.Context, sessionID, byUserID uuid.UUID, admin, cancelled bool) (*models.Session, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, ErrNotFound
	}

	st.mu.Lock()
	if !st.meta.Active() {
		st.mu.Unlock()
		return nil, ErrAlreadyEnded
	}
	if !admin && byUserID != st.meta.TeacherID {
		st.mu.Unlock()
		return nil, ErrForbidden
	}
	now := e.now()
	status := models.SessionEnded
	if cancelled {
		status = models.SessionCancelled
	}
	st.meta.Status = status
	st.meta.EndTime = &now
	st.meta.UpdatedAt = now
	st.evictAfter = now.Add(e.cfg.EndedRetention)

	final := st.live.Flush(now)
	buckets := st.trends.Buckets(0)
	meta := st.meta
	st.mu.Unlock()

	// Durable transitions are logged, not rolled back: the in-memory state
	// machine has already moved on.
	if err := e.store.UpdateSessionStatus(ctx, sessionID, status, now); err != nil {
		e.logger.Error("persist session status failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	if len(buckets) > 0 {
		if err := e.metrics.SaveTrendBuckets(ctx, buckets); err != nil {
			e.logger.Error("persist trend buckets failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}

	e.tel.SetActiveSessions(int(e.activeSessions.Add(-1)))
	if e.fanout != nil {
		e.fanout.Publish(sessionID, EventStatusChange, map[string]interface{}{
			"type":   "session_" + string(status),
			"status": status,
		})
		e.fanout.Publish(sessionID, EventSnapshot, final)
		e.tel.Broadcast()
	}
	if e.onSessionEnd != nil {
		e.onSessionEnd(sessionID)
	}
	e.logger.Info("session ended",
		zap.String("session_id", sessionID.String()),
		zap.String("status", string(status)),
		zap.Int64("total_events", final.TotalEvents))
	return &meta, nil
}

// IsMember reports whether the user has a membership row in a resident
// session, left or not. Used as the access gate for read endpoints; left
// participants keep read access to the session they attended.
func (e *Engine) IsMember(sessionID, userID uuid.UUID) bool {
	st := e.lookup(sessionID)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.roster[userID] != nil
}

// Session returns a copy of the resident session metadata.
func (e *Engine) Session(sessionID uuid.UUID) (*models.Session, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	meta := st.meta
	return &meta, nil
}

// Roster returns a copy of the session's membership rows, active and left.
func (e *Engine) Roster(sessionID uuid.UUID) ([]models.Participant, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.Participant, 0, len(st.roster))
	for _, p := range st.roster {
		out = append(out, *p)
	}
	return out, nil
}

// ActiveStudents returns the number of students currently in the session.
func (e *Engine) ActiveStudents(sessionID uuid.UUID) (int, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return 0, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.activeStudentsLocked(), nil
}

// Load rebuilds in-memory state for sessions that were active when the
// process last stopped. Aggregates restart empty; the durable metric log
// retains the history for reports.
func (e *Engine) Load(ctx context.Context) error {
	sessions, err := e.store.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("load active sessions: %w", err)
	}
	for i := range sessions {
		sess := sessions[i]
		participants, err := e.store.ParticipantsBySession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("load participants for %s: %w", sess.ID, err)
		}
		roster := make(map[uuid.UUID]*models.Participant, len(participants))
		for j := range participants {
			p := participants[j]
			roster[p.UserID] = &p
		}
		st := &sessionState{
			meta:   sess,
			roster: roster,
			live:   NewLiveAggregate(sess.ID, e.cfg.OnlineWindow),
			trends: NewTrendSeries(sess.ID, e.cfg.BucketWidth, e.cfg.MaxTrendBuckets),
		}
		e.mu.Lock()
		e.sessions[sess.ID] = st
		e.mu.Unlock()
		e.activeSessions.Add(1)
	}
	e.tel.SetActiveSessions(int(e.activeSessions.Load()))
	if len(sessions) > 0 {
		e.logger.Info("recovered active sessions", zap.Int("count", len(sessions)))
	}
	return nil
}

func (e *Engine) persistParticipant(p models.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.UpsertParticipant(ctx, &p); err != nil {
		e.logger.Error("persist membership failed",
			zap.String("session_id", p.SessionID.String()),
			zap.String("user_id", p.UserID.String()),
			zap.Error(err))
	}
}

func (e *Engine) publishStatus(sessionID uuid.UUID, change string, userID uuid.UUID) {
	if e.fanout == nil {
		return
	}
	e.fanout.Publish(sessionID, EventStatusChange, map[string]interface{}{
		"type":    change,
		"user_id": userID,
	})
	e.tel.Broadcast()
}
