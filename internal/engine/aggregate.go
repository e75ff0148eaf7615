package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time view of a session's live aggregate.
type Snapshot struct {
	SessionID           uuid.UUID        `json:"session_id"`
	AvgEngagement       float64          `json:"avg_engagement"`
	EmotionDistribution map[string]int64 `json:"emotion_distribution"`
	OnlineCount         int              `json:"online_count"`
	TotalEvents         int64            `json:"total_events"`
	Final               bool             `json:"final"`
	TakenAt             time.Time        `json:"taken_at"`
}

// LiveAggregate holds the running statistics for one session. All mutation
// goes through the per-session stream owner, so a single mutex suffices;
// Apply is O(1) per event. The most recently built snapshot is kept behind
// an atomic pointer so cadence-driven readers never contend with ingestion.
type LiveAggregate struct {
	mu           sync.Mutex
	sessionID    uuid.UUID
	onlineWindow time.Duration

	flushed       bool
	totalEvents   int64
	sumEngagement float64
	emotionCounts map[string]int64
	lastSeen      map[uuid.UUID]time.Time

	latest atomic.Pointer[Snapshot]
	final  *Snapshot
}

// NewLiveAggregate creates the aggregate for a session that just became active.
func NewLiveAggregate(sessionID uuid.UUID, onlineWindow time.Duration) *LiveAggregate {
	return &LiveAggregate{
		sessionID:     sessionID,
		onlineWindow:  onlineWindow,
		emotionCounts: make(map[string]int64),
		lastSeen:      make(map[uuid.UUID]time.Time),
	}
}

// Apply folds one accepted event into the aggregate. Returns ErrAlreadyEnded
// once the aggregate has been flushed.
func (a *LiveAggregate) Apply(ev MetricEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return fmt.Errorf("%w: aggregate flushed", ErrAlreadyEnded)
	}
	a.totalEvents++
	a.sumEngagement += ev.EngagementScore
	a.emotionCounts[ev.Emotion]++
	if seen, ok := a.lastSeen[ev.StudentID]; !ok || ev.Timestamp.After(seen) {
		a.lastSeen[ev.StudentID] = ev.Timestamp
	}
	return nil
}

// Snapshot builds a fresh point-in-time view. Online counts students seen
// within the online window relative to now. The result is also published for
// lock-free Latest readers.
func (a *LiveAggregate) Snapshot(now time.Time) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return *a.final
	}
	snap := a.buildLocked(now, false)
	a.latest.Store(&snap)
	return snap
}

// Latest returns the most recently built snapshot without locking. May lag
// Snapshot by up to one debounce interval; returns a zero-valued snapshot
// before the first build.
func (a *LiveAggregate) Latest() Snapshot {
	if s := a.latest.Load(); s != nil {
		return *s
	}
	return Snapshot{SessionID: a.sessionID, EmotionDistribution: map[string]int64{}}
}

// Flush freezes the aggregate and returns the final snapshot. Idempotent:
// repeated calls return the same frozen snapshot.
func (a *LiveAggregate) Flush(now time.Time) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return *a.final
	}
	snap := a.buildLocked(now, true)
	a.flushed = true
	a.final = &snap
	a.latest.Store(&snap)
	return snap
}

// TotalEvents returns the number of accepted events so far.
func (a *LiveAggregate) TotalEvents() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalEvents
}

func (a *LiveAggregate) buildLocked(now time.Time, final bool) Snapshot {
	dist := make(map[string]int64, len(a.emotionCounts))
	for k, v := range a.emotionCounts {
		dist[k] = v
	}
	online := 0
	for _, seen := range a.lastSeen {
		if now.Sub(seen) <= a.onlineWindow {
			online++
		}
	}
	avg := 0.0
	if a.totalEvents > 0 {
		avg = a.sumEngagement / float64(a.totalEvents)
	}
	return Snapshot{
		SessionID:           a.sessionID,
		AvgEngagement:       avg,
		EmotionDistribution: dist,
		OnlineCount:         online,
		TotalEvents:         a.totalEvents,
		Final:               final,
		TakenAt:             now,
	}
}
