package engine

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, sid, uid uuid.UUID, emotion string, engagement float64, ts time.Time) MetricEvent {
	t.Helper()
	ev, err := NewMetricEvent(sid, uid, emotion, 0.9, engagement, ts)
	require.NoError(t, err)
	return ev
}

func TestAggregateAverageMatchesBatch(t *testing.T) {
	sid := uuid.New()
	agg := NewLiveAggregate(sid, 5*time.Minute)
	now := time.Now()

	rng := rand.New(rand.NewSource(42))
	var sum float64
	const n = 1000
	for i := 0; i < n; i++ {
		score := rng.Float64() * EngagementMax
		sum += score
		ev := mustEvent(t, sid, uuid.New(), EmotionNeutral, score, now)
		require.NoError(t, agg.Apply(ev))
	}

	snap := agg.Snapshot(now)
	assert.Equal(t, int64(n), snap.TotalEvents)
	assert.InDelta(t, sum/n, snap.AvgEngagement, 1e-9)
}

func TestAggregateEmotionDistribution(t *testing.T) {
	sid := uuid.New()
	agg := NewLiveAggregate(sid, 5*time.Minute)
	now := time.Now()
	uid := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Apply(mustEvent(t, sid, uid, EmotionHappy, 80, now)))
	}
	require.NoError(t, agg.Apply(mustEvent(t, sid, uid, EmotionConfused, 30, now)))

	snap := agg.Snapshot(now)
	assert.Equal(t, int64(3), snap.EmotionDistribution[EmotionHappy])
	assert.Equal(t, int64(1), snap.EmotionDistribution[EmotionConfused])
	assert.Equal(t, int64(4), snap.TotalEvents)
}

func TestAggregateOnlineWindow(t *testing.T) {
	sid := uuid.New()
	agg := NewLiveAggregate(sid, 5*time.Minute)
	base := time.Now()

	recent := uuid.New()
	stale := uuid.New()
	require.NoError(t, agg.Apply(mustEvent(t, sid, stale, EmotionNeutral, 50, base.Add(-10*time.Minute))))
	require.NoError(t, agg.Apply(mustEvent(t, sid, recent, EmotionNeutral, 50, base.Add(-time.Minute))))

	snap := agg.Snapshot(base)
	assert.Equal(t, 1, snap.OnlineCount, "only the recently seen student counts as online")
	assert.Equal(t, int64(2), snap.TotalEvents, "stale students still contribute events")
}

func TestAggregateEmptySnapshot(t *testing.T) {
	agg := NewLiveAggregate(uuid.New(), 5*time.Minute)
	snap := agg.Snapshot(time.Now())
	assert.Zero(t, snap.TotalEvents)
	assert.Zero(t, snap.AvgEngagement)
	assert.Empty(t, snap.EmotionDistribution)
	assert.Zero(t, snap.OnlineCount)
}

func TestAggregateFlushIdempotent(t *testing.T) {
	sid := uuid.New()
	agg := NewLiveAggregate(sid, 5*time.Minute)
	now := time.Now()
	require.NoError(t, agg.Apply(mustEvent(t, sid, uuid.New(), EmotionHappy, 90, now)))

	first := agg.Flush(now)
	assert.True(t, first.Final)
	second := agg.Flush(now.Add(time.Hour))
	assert.Equal(t, first, second, "repeated flush returns the frozen snapshot")

	err := agg.Apply(mustEvent(t, sid, uuid.New(), EmotionHappy, 90, now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyEnded))
	assert.Equal(t, int64(1), agg.TotalEvents(), "events after flush do not count")
}

func TestAggregateLatestLagsSnapshot(t *testing.T) {
	sid := uuid.New()
	agg := NewLiveAggregate(sid, 5*time.Minute)
	now := time.Now()

	latest := agg.Latest()
	assert.Zero(t, latest.TotalEvents, "zero-valued before the first build")

	require.NoError(t, agg.Apply(mustEvent(t, sid, uuid.New(), EmotionHappy, 70, now)))
	assert.Zero(t, agg.Latest().TotalEvents, "Apply alone does not rebuild")

	agg.Snapshot(now)
	assert.Equal(t, int64(1), agg.Latest().TotalEvents)
}
