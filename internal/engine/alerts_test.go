package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(dist map[string]int64, avg float64, total int64) Snapshot {
	return Snapshot{
		SessionID:           uuid.New(),
		AvgEngagement:       avg,
		EmotionDistribution: dist,
		TotalEvents:         total,
		TakenAt:             time.Now(),
	}
}

func TestAlertHighConfusion(t *testing.T) {
	th := DefaultThresholds()

	// 3 of 10 exceeds the 20% threshold
	fired := EvaluateAlerts(snapshotWith(map[string]int64{EmotionConfused: 3}, 80, 10), 10, th)
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0], "confused")

	// 1 of 10 does not
	fired = EvaluateAlerts(snapshotWith(map[string]int64{EmotionConfused: 1}, 80, 10), 10, th)
	assert.Empty(t, fired)

	// exactly at the threshold does not fire
	fired = EvaluateAlerts(snapshotWith(map[string]int64{EmotionConfused: 2}, 80, 10), 10, th)
	assert.Empty(t, fired)
}

func TestAlertBoredom(t *testing.T) {
	th := DefaultThresholds()

	fired := EvaluateAlerts(snapshotWith(map[string]int64{EmotionBored: 4}, 80, 10), 10, th)
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0], "bored")

	fired = EvaluateAlerts(snapshotWith(map[string]int64{EmotionBored: 3}, 80, 10), 10, th)
	assert.Empty(t, fired, "exactly 30% does not fire")
}

func TestAlertLowEngagement(t *testing.T) {
	th := DefaultThresholds()

	fired := EvaluateAlerts(snapshotWith(map[string]int64{}, 45, 20), 10, th)
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0], "Low overall engagement")

	fired = EvaluateAlerts(snapshotWith(map[string]int64{}, 60, 20), 10, th)
	assert.Empty(t, fired, "at the floor does not fire")
}

func TestAlertNoEventsNoLowEngagement(t *testing.T) {
	// a session with zero events has no meaningful average
	fired := EvaluateAlerts(snapshotWith(map[string]int64{}, 0, 0), 10, DefaultThresholds())
	assert.Empty(t, fired)
}

func TestAlertZeroStudentsNoDivideByZero(t *testing.T) {
	fired := EvaluateAlerts(snapshotWith(map[string]int64{EmotionConfused: 5}, 80, 5), 0, DefaultThresholds())
	assert.Empty(t, fired)
}

func TestAlertMultipleRulesFireTogether(t *testing.T) {
	snap := snapshotWith(map[string]int64{EmotionConfused: 5, EmotionBored: 5}, 30, 20)
	fired := EvaluateAlerts(snap, 10, DefaultThresholds())
	assert.Len(t, fired, 3)
}
