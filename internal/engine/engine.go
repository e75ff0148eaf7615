package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/pkg/telemetry"
)

// Fanout message types pushed to session subscribers.
const (
	EventSnapshot     = "snapshot"
	EventStatusChange = "status_change"
	EventAlert        = "alert"
)

// SessionStore persists session and membership rows. The engine owns the
// in-memory state; the store is the system of record surviving restarts.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus, endedAt time.Time) error
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	ActiveSessions(ctx context.Context) ([]models.Session, error)
	ParticipantsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
}

// MetricStore appends to the durable metric log and persists trend buckets.
type MetricStore interface {
	AppendMetric(ctx context.Context, ev MetricEvent) error
	SaveTrendBuckets(ctx context.Context, buckets []TrendBucket) error
}

// Broadcaster delivers a message to all current subscribers of a session.
// Delivery is best-effort, most-recent-wins.
type Broadcaster interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// Config holds engine tuning.
type Config struct {
	OnlineWindow      time.Duration
	BucketWidth       time.Duration
	BroadcastDebounce time.Duration
	SweepInterval     time.Duration
	AlertInterval     time.Duration
	EndedRetention    time.Duration
	MaxTrendBuckets   int
	AppendRetries     int
	AppendBackoff     time.Duration
	AppendWorkers     int
	AppendQueueSize   int
	Thresholds        AlertThresholds
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		OnlineWindow:      5 * time.Minute,
		BucketWidth:       time.Minute,
		BroadcastDebounce: 2 * time.Second,
		SweepInterval:     30 * time.Second,
		AlertInterval:     15 * time.Second,
		EndedRetention:    time.Hour,
		MaxTrendBuckets:   480,
		AppendRetries:     3,
		AppendBackoff:     2 * time.Second,
		AppendWorkers:     4,
		AppendQueueSize:   1024,
		Thresholds:        DefaultThresholds(),
	}
}

// sessionState is the per-session stream owner. Its mutex serializes every
// mutation of the roster, live aggregate and trend series for that session,
// which is what keeps the running mean race-free without a global lock.
type sessionState struct {
	mu            sync.Mutex
	meta          models.Session
	roster        map[uuid.UUID]*models.Participant
	live          *LiveAggregate
	trends        *TrendSeries
	lastBroadcast time.Time
	evictAfter    time.Time // zero while active
}

func (s *sessionState) activeStudentsLocked() int {
	n := 0
	for _, p := range s.roster {
		if p.Role == models.ParticipantStudent && p.ActiveMember() {
			n++
		}
	}
	return n
}

// Engine owns session lifecycle state and real-time engagement aggregation.
// The session map is guarded by a coarse lock used only for registry-level
// operations; per-event work happens inside the session's own owner lock.
type Engine struct {
	mu             sync.RWMutex
	sessions       map[uuid.UUID]*sessionState
	activeSessions atomic.Int64

	cfg      Config
	store    SessionStore
	metrics  MetricStore
	fanout   Broadcaster
	tel      *telemetry.Metrics
	logger   *zap.Logger
	now      func() time.Time
	appendCh chan MetricEvent

	onSessionEnd func(sessionID uuid.UUID)
}

// New creates an engine. fanout and tel may be nil.
func New(cfg Config, store SessionStore, metrics MetricStore, fanout Broadcaster, tel *telemetry.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = time.Minute
	}
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = 5 * time.Minute
	}
	if cfg.AppendWorkers <= 0 {
		cfg.AppendWorkers = 4
	}
	if cfg.AppendQueueSize <= 0 {
		cfg.AppendQueueSize = 1024
	}
	e := &Engine{
		sessions: make(map[uuid.UUID]*sessionState),
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		fanout:   fanout,
		tel:      tel,
		logger:   logger,
		now:      time.Now,
		appendCh: make(chan MetricEvent, cfg.AppendQueueSize),
	}
	for i := 0; i < cfg.AppendWorkers; i++ {
		go e.appendLoop()
	}
	return e
}

// SetSessionEndHook registers a callback invoked after a session has ended
// and flushed (used to enqueue report archival).
func (e *Engine) SetSessionEndHook(fn func(sessionID uuid.UUID)) {
	e.onSessionEnd = fn
}

// Ingest validates membership and folds one event into the session's live
// aggregate and trend series, then appends to the durable log asynchronously.
// Validation of value bounds already happened in NewMetricEvent.
func (e *Engine) Ingest(ctx context.Context, ev MetricEvent) error {
	st := e.lookup(ev.SessionID)
	if st == nil {
		e.tel.EventRejected("not_found")
		return ErrNotFound
	}

	st.mu.Lock()
	if !st.meta.Active() {
		st.mu.Unlock()
		e.tel.EventRejected("not_active")
		return ErrNotActive
	}
	p := st.roster[ev.StudentID]
	if p == nil || !p.ActiveMember() {
		st.mu.Unlock()
		e.tel.EventRejected("not_member")
		return ErrNotMember
	}
	if err := st.live.Apply(ev); err != nil {
		st.mu.Unlock()
		e.tel.EventRejected("flushed")
		return err
	}
	st.trends.Record(ev.Timestamp, ev.EngagementScore)

	now := e.now()
	publish := false
	var snap Snapshot
	if e.fanout != nil && now.Sub(st.lastBroadcast) >= e.cfg.BroadcastDebounce {
		st.lastBroadcast = now
		snap = st.live.Snapshot(now)
		publish = true
	}
	st.mu.Unlock()

	e.tel.EventIngested()
	if publish {
		e.fanout.Publish(ev.SessionID, EventSnapshot, snap)
		e.tel.Broadcast()
	}

	// Durable append is off the hot path, handed to a bounded worker pool.
	// A full queue means the store is already far behind; the event stays in
	// the in-memory aggregate and the divergence is counted, not rolled back.
	select {
	case e.appendCh <- ev:
	default:
		e.tel.AppendFailed()
		e.logger.Warn("append queue full, metric dropped from durable log",
			zap.String("session_id", ev.SessionID.String()),
			zap.String("student_id", ev.StudentID.String()))
	}
	return nil
}

func (e *Engine) appendLoop() {
	for ev := range e.appendCh {
		e.appendMetric(ev)
	}
}

func (e *Engine) appendMetric(ev MetricEvent) {
	retries := e.cfg.AppendRetries
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = e.metrics.AppendMetric(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		if attempt < retries {
			time.Sleep(e.cfg.AppendBackoff)
		}
	}
	e.tel.AppendFailed()
	e.logger.Error("metric append dropped after retries",
		zap.String("session_id", ev.SessionID.String()),
		zap.String("student_id", ev.StudentID.String()),
		zap.Error(err))
}

// LiveSnapshot returns a fresh point-in-time snapshot for the session.
func (e *Engine) LiveSnapshot(sessionID uuid.UUID) (Snapshot, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return Snapshot{}, ErrNotFound
	}
	return st.live.Snapshot(e.now()), nil
}

// Trends returns the session's trend buckets oldest-first, bounded by limit.
func (e *Engine) Trends(sessionID uuid.UUID, limit int) ([]TrendBucket, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, ErrNotFound
	}
	return st.trends.Buckets(limit), nil
}

// Run drives the periodic sweeps: force-ending sessions past their scheduled
// end, evaluating alerts, and evicting long-ended state. Blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) {
	sweep := time.NewTicker(e.cfg.SweepInterval)
	alerts := time.NewTicker(e.cfg.AlertInterval)
	defer sweep.Stop()
	defer alerts.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopping")
			return
		case <-sweep.C:
			e.sweepOverdue(ctx)
		case <-alerts.C:
			e.evaluateAlerts()
		}
	}
}

func (e *Engine) sweepOverdue(ctx context.Context) {
	now := e.now()

	var overdue []uuid.UUID
	var evict []uuid.UUID
	e.mu.RLock()
	for id, st := range e.sessions {
		st.mu.Lock()
		if st.meta.Active() && now.After(st.meta.ScheduledEnd) {
			overdue = append(overdue, id)
		} else if !st.evictAfter.IsZero() && now.After(st.evictAfter) {
			evict = append(evict, id)
		}
		st.mu.Unlock()
	}
	e.mu.RUnlock()

	for _, id := range overdue {
		if _, err := e.End(ctx, id, uuid.Nil, true, false); err != nil {
			e.logger.Warn("force-end failed", zap.String("session_id", id.String()), zap.Error(err))
		} else {
			e.logger.Info("session force-ended past scheduled end", zap.String("session_id", id.String()))
		}
	}

	if len(evict) > 0 {
		e.mu.Lock()
		for _, id := range evict {
			delete(e.sessions, id)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) evaluateAlerts() {
	now := e.now()
	e.mu.RLock()
	states := make([]*sessionState, 0, len(e.sessions))
	for _, st := range e.sessions {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		if !st.meta.Active() {
			st.mu.Unlock()
			continue
		}
		students := st.activeStudentsLocked()
		id := st.meta.ID
		st.mu.Unlock()

		snap := st.live.Snapshot(now)
		fired := EvaluateAlerts(snap, students, e.cfg.Thresholds)
		if len(fired) == 0 {
			continue
		}
		e.tel.AlertsEmitted(len(fired))
		for _, msg := range fired {
			if e.fanout != nil {
				e.fanout.Publish(id, EventAlert, map[string]string{"message": msg})
				e.tel.Broadcast()
			}
			e.logger.Info("engagement alert", zap.String("session_id", id.String()), zap.String("alert", msg))
		}
	}
}

func (e *Engine) lookup(sessionID uuid.UUID) *sessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}
