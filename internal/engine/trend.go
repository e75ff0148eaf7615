package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrendBucket is one fixed-width time window's aggregate for a session.
// Buckets stay updatable while their window is open; late events inside the
// window still apply.
type TrendBucket struct {
	SessionID     uuid.UUID `json:"session_id"`
	BucketStart   time.Time `json:"bucket_start"`
	EventCount    int64     `json:"event_count"`
	AvgEngagement float64   `json:"avg_engagement"`
}

// TrendSeries holds the time-bucketed engagement trend for one session with
// bounded retention: once maxBuckets is exceeded the oldest buckets are
// evicted (they remain recoverable from the durable metric log).
type TrendSeries struct {
	mu         sync.Mutex
	sessionID  uuid.UUID
	width      time.Duration
	maxBuckets int
	buckets    map[int64]*TrendBucket
}

// NewTrendSeries creates an empty trend series.
func NewTrendSeries(sessionID uuid.UUID, width time.Duration, maxBuckets int) *TrendSeries {
	if width <= 0 {
		width = time.Minute
	}
	return &TrendSeries{
		sessionID:  sessionID,
		width:      width,
		maxBuckets: maxBuckets,
		buckets:    make(map[int64]*TrendBucket),
	}
}

// Record upserts the bucket covering ts with a running mean.
func (t *TrendSeries) Record(ts time.Time, engagementScore float64) {
	start := ts.Truncate(t.width)
	key := start.Unix()

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[key]
	if !ok {
		b = &TrendBucket{SessionID: t.sessionID, BucketStart: start}
		t.buckets[key] = b
	}
	b.EventCount++
	b.AvgEngagement += (engagementScore - b.AvgEngagement) / float64(b.EventCount)

	if t.maxBuckets > 0 && len(t.buckets) > t.maxBuckets {
		t.evictOldestLocked()
	}
}

// Buckets returns buckets ordered oldest-first. A positive limit keeps only
// the most recent limit buckets (still oldest-first, for charting).
func (t *TrendSeries) Buckets(limit int) []TrendBucket {
	t.mu.Lock()
	out := make([]TrendBucket, 0, len(t.buckets))
	for _, b := range t.buckets {
		out = append(out, *b)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// EventTotal is the sum of event counts across retained buckets.
func (t *TrendSeries) EventTotal() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, b := range t.buckets {
		n += b.EventCount
	}
	return n
}

func (t *TrendSeries) evictOldestLocked() {
	var oldest int64
	first := true
	for k := range t.buckets {
		if first || k < oldest {
			oldest = k
			first = false
		}
	}
	if !first {
		delete(t.buckets, oldest)
	}
}
