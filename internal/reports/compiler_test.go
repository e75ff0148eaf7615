package reports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/models"
)

type fakeLive struct {
	sessions  map[uuid.UUID]*models.Session
	snapshots map[uuid.UUID]engine.Snapshot
	trends    map[uuid.UUID][]engine.TrendBucket
}

func (f *fakeLive) Session(id uuid.UUID) (*models.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, engine.ErrNotFound
}

func (f *fakeLive) LiveSnapshot(id uuid.UUID) (engine.Snapshot, error) {
	if s, ok := f.snapshots[id]; ok {
		return s, nil
	}
	return engine.Snapshot{}, engine.ErrNotFound
}

func (f *fakeLive) Trends(id uuid.UUID, limit int) ([]engine.TrendBucket, error) {
	if t, ok := f.trends[id]; ok {
		return t, nil
	}
	return nil, engine.ErrNotFound
}

type fakeSessions struct {
	sessions     map[uuid.UUID]*models.Session
	participants map[uuid.UUID][]models.Participant
}

func (f *fakeSessions) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessions) ParticipantsBySession(ctx context.Context, id uuid.UUID) ([]models.Participant, error) {
	return f.participants[id], nil
}

type fakeMetrics struct {
	rows    map[uuid.UUID][]models.MetricRow
	buckets map[uuid.UUID][]engine.TrendBucket
}

func (f *fakeMetrics) QueryBySession(ctx context.Context, id uuid.UUID) ([]models.MetricRow, error) {
	return f.rows[id], nil
}

func (f *fakeMetrics) TrendBucketsBySession(ctx context.Context, id uuid.UUID) ([]engine.TrendBucket, error) {
	return f.buckets[id], nil
}

func emptyLive() *fakeLive {
	return &fakeLive{
		sessions:  map[uuid.UUID]*models.Session{},
		snapshots: map[uuid.UUID]engine.Snapshot{},
		trends:    map[uuid.UUID][]engine.TrendBucket{},
	}
}

func row(sid, uid uuid.UUID, emotion string, score float64, ts time.Time) models.MetricRow {
	return models.MetricRow{
		ID:              uuid.New(),
		SessionID:       sid,
		StudentID:       uid,
		Emotion:         emotion,
		Confidence:      0.9,
		EngagementScore: score,
		Timestamp:       ts,
	}
}

func TestCompileUnknownSession(t *testing.T) {
	c := NewCompiler(emptyLive(), &fakeSessions{sessions: map[uuid.UUID]*models.Session{}}, &fakeMetrics{})
	_, err := c.Compile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionUnknown)
}

func TestCompileEmptySessionIsWellFormed(t *testing.T) {
	sid := uuid.New()
	ended := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sess := &models.Session{
		ID:        sid,
		TeacherID: uuid.New(),
		Title:     "Empty class",
		Status:    models.SessionEnded,
		StartTime: ended.Add(-time.Hour),
		EndTime:   &ended,
	}
	c := NewCompiler(
		emptyLive(),
		&fakeSessions{sessions: map[uuid.UUID]*models.Session{sid: sess}, participants: map[uuid.UUID][]models.Participant{}},
		&fakeMetrics{},
	)

	rep, err := c.Compile(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, sid, rep.SessionID)
	assert.Zero(t, rep.TotalEvents)
	assert.Zero(t, rep.AvgEngagement)
	assert.NotNil(t, rep.EmotionDistribution)
	assert.Empty(t, rep.Students)
	assert.Empty(t, rep.Trend)
	assert.False(t, rep.GeneratedAt.IsZero())
}

func TestCompilePerStudentStats(t *testing.T) {
	sid := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sess := &models.Session{ID: sid, TeacherID: uuid.New(), Title: "Stats", Status: models.SessionEnded, StartTime: base}

	rows := []models.MetricRow{
		row(sid, alice, engine.EmotionHappy, 80, base.Add(time.Second)),
		row(sid, alice, engine.EmotionConfused, 40, base.Add(2*time.Second)),
		row(sid, bob, engine.EmotionNeutral, 60, base.Add(3*time.Second)),
	}
	c := NewCompiler(
		emptyLive(),
		&fakeSessions{
			sessions: map[uuid.UUID]*models.Session{sid: sess},
			participants: map[uuid.UUID][]models.Participant{sid: {
				{SessionID: sid, UserID: alice, Role: models.ParticipantStudent},
				{SessionID: sid, UserID: bob, Role: models.ParticipantStudent},
			}},
		},
		&fakeMetrics{rows: map[uuid.UUID][]models.MetricRow{sid: rows}},
	)

	rep, err := c.Compile(context.Background(), sid)
	require.NoError(t, err)

	assert.Equal(t, int64(3), rep.TotalEvents)
	assert.InDelta(t, 60, rep.AvgEngagement, 1e-9)
	assert.Equal(t, 2, rep.ParticipantCount)
	assert.Equal(t, int64(1), rep.EmotionDistribution[engine.EmotionHappy])
	assert.Equal(t, int64(1), rep.EmotionDistribution[engine.EmotionConfused])

	require.Len(t, rep.Students, 2)
	a := rep.Students[0]
	assert.Equal(t, alice, a.StudentID)
	assert.Equal(t, int64(2), a.Count)
	assert.InDelta(t, 60, a.MeanEngagement, 1e-9)
	assert.InDelta(t, 40, a.MinEngagement, 1e-9)
	assert.InDelta(t, 80, a.MaxEngagement, 1e-9)
	assert.Equal(t, int64(1), a.EmotionCounts[engine.EmotionConfused])

	b := rep.Students[1]
	assert.Equal(t, bob, b.StudentID)
	assert.Equal(t, int64(1), b.Count)
	assert.InDelta(t, 60, b.MeanEngagement, 1e-9)
}

func TestCompilePrefersLiveAggregate(t *testing.T) {
	sid := uuid.New()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sess := &models.Session{ID: sid, TeacherID: uuid.New(), Title: "Live", Status: models.SessionActive, StartTime: base}

	live := emptyLive()
	live.sessions[sid] = sess
	live.snapshots[sid] = engine.Snapshot{
		SessionID:           sid,
		AvgEngagement:       72,
		EmotionDistribution: map[string]int64{engine.EmotionHappy: 5},
		TotalEvents:         5,
	}
	live.trends[sid] = []engine.TrendBucket{{SessionID: sid, BucketStart: base, EventCount: 5, AvgEngagement: 72}}

	// the durable log lags the live aggregate
	student := uuid.New()
	c := NewCompiler(
		live,
		&fakeSessions{sessions: map[uuid.UUID]*models.Session{}, participants: map[uuid.UUID][]models.Participant{}},
		&fakeMetrics{rows: map[uuid.UUID][]models.MetricRow{sid: {
			row(sid, student, engine.EmotionHappy, 70, base),
		}}},
	)

	rep, err := c.Compile(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.TotalEvents)
	assert.InDelta(t, 72, rep.AvgEngagement, 1e-9)
	require.Len(t, rep.Trend, 1)
	assert.Equal(t, int64(5), rep.Trend[0].EventCount)
	// per-student detail still comes from the durable log
	require.Len(t, rep.Students, 1)
	assert.Equal(t, student, rep.Students[0].StudentID)
}

func TestCompileFallsBackToPersistedTrend(t *testing.T) {
	sid := uuid.New()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sess := &models.Session{ID: sid, TeacherID: uuid.New(), Title: "Archived", Status: models.SessionEnded, StartTime: base}

	c := NewCompiler(
		emptyLive(),
		&fakeSessions{sessions: map[uuid.UUID]*models.Session{sid: sess}, participants: map[uuid.UUID][]models.Participant{}},
		&fakeMetrics{
			buckets: map[uuid.UUID][]engine.TrendBucket{sid: {
				{SessionID: sid, BucketStart: base, EventCount: 2, AvgEngagement: 55},
				{SessionID: sid, BucketStart: base.Add(time.Minute), EventCount: 1, AvgEngagement: 65},
			}},
		},
	)

	rep, err := c.Compile(context.Background(), sid)
	require.NoError(t, err)
	require.Len(t, rep.Trend, 2)
	assert.True(t, rep.Trend[0].BucketStart.Before(rep.Trend[1].BucketStart))
}
