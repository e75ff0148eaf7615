package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendBucketAssignment(t *testing.T) {
	ts := NewTrendSeries(uuid.New(), time.Minute, 0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	ts.Record(base.Add(10*time.Second), 80)
	ts.Record(base.Add(50*time.Second), 60)
	ts.Record(base.Add(70*time.Second), 100)

	buckets := ts.Buckets(0)
	require.Len(t, buckets, 2)
	assert.Equal(t, base, buckets[0].BucketStart)
	assert.Equal(t, int64(2), buckets[0].EventCount)
	assert.InDelta(t, 70, buckets[0].AvgEngagement, 1e-9)
	assert.Equal(t, base.Add(time.Minute), buckets[1].BucketStart)
	assert.Equal(t, int64(1), buckets[1].EventCount)
	assert.InDelta(t, 100, buckets[1].AvgEngagement, 1e-9)
}

func TestTrendCountsSumToTotal(t *testing.T) {
	ts := NewTrendSeries(uuid.New(), time.Minute, 0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	const n = 500
	for i := 0; i < n; i++ {
		ts.Record(base.Add(time.Duration(i)*time.Second), 50)
	}

	var sum int64
	for _, b := range ts.Buckets(0) {
		sum += b.EventCount
	}
	assert.Equal(t, int64(n), sum)
	assert.Equal(t, int64(n), ts.EventTotal())
}

func TestTrendRunningMeanMatchesBatch(t *testing.T) {
	ts := NewTrendSeries(uuid.New(), time.Minute, 0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	scores := []float64{10, 90, 40, 60, 100}
	var sum float64
	for i, s := range scores {
		sum += s
		ts.Record(base.Add(time.Duration(i)*time.Second), s)
	}

	buckets := ts.Buckets(0)
	require.Len(t, buckets, 1)
	assert.InDelta(t, sum/float64(len(scores)), buckets[0].AvgEngagement, 1e-9)
}

func TestTrendLimitKeepsMostRecent(t *testing.T) {
	ts := NewTrendSeries(uuid.New(), time.Minute, 0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts.Record(base.Add(time.Duration(i)*time.Minute), float64(i))
	}

	buckets := ts.Buckets(2)
	require.Len(t, buckets, 2)
	assert.Equal(t, base.Add(3*time.Minute), buckets[0].BucketStart)
	assert.Equal(t, base.Add(4*time.Minute), buckets[1].BucketStart)
	assert.True(t, buckets[0].BucketStart.Before(buckets[1].BucketStart), "oldest-first even when limited")
}

func TestTrendEvictsOldestAtCapacity(t *testing.T) {
	ts := NewTrendSeries(uuid.New(), time.Minute, 3)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts.Record(base.Add(time.Duration(i)*time.Minute), 50)
	}

	buckets := ts.Buckets(0)
	require.Len(t, buckets, 3)
	assert.Equal(t, base.Add(2*time.Minute), buckets[0].BucketStart)
}

func TestTrendLateEventInsideOpenWindow(t *testing.T) {
	ts := NewTrendSeries(uuid.New(), time.Minute, 0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	ts.Record(base.Add(2*time.Minute), 80)
	// late arrival for an earlier, still-retained bucket
	ts.Record(base.Add(30*time.Second), 40)

	buckets := ts.Buckets(0)
	require.Len(t, buckets, 2)
	assert.Equal(t, base, buckets[0].BucketStart)
	assert.InDelta(t, 40, buckets[0].AvgEngagement, 1e-9)
}
