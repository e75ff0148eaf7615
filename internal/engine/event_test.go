package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricEventNormalizesEmotion(t *testing.T) {
	ev, err := NewMetricEvent(uuid.New(), uuid.New(), "  Happy ", 0.9, 75, time.Now())
	require.NoError(t, err)
	assert.Equal(t, EmotionHappy, ev.Emotion)
}

func TestNewMetricEventRejectsUnknownEmotion(t *testing.T) {
	_, err := NewMetricEvent(uuid.New(), uuid.New(), "ecstatic", 0.9, 75, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNewMetricEventBounds(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()

	_, err := NewMetricEvent(sid, uid, EmotionHappy, 1.5, 75, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRange))
	assert.True(t, errors.Is(err, ErrValidation), "range errors are validation errors")

	_, err = NewMetricEvent(sid, uid, EmotionHappy, -0.1, 75, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidRange))

	_, err = NewMetricEvent(sid, uid, EmotionHappy, 0.5, 101, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidRange))

	_, err = NewMetricEvent(sid, uid, EmotionHappy, 0.5, -1, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidRange))

	// inclusive boundaries are accepted
	_, err = NewMetricEvent(sid, uid, EmotionHappy, 0, 0, time.Now())
	assert.NoError(t, err)
	_, err = NewMetricEvent(sid, uid, EmotionHappy, 1, EngagementMax, time.Now())
	assert.NoError(t, err)
}

func TestNewMetricEventRequiresIDs(t *testing.T) {
	_, err := NewMetricEvent(uuid.Nil, uuid.New(), EmotionHappy, 0.5, 50, time.Now())
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewMetricEvent(uuid.New(), uuid.Nil, EmotionHappy, 0.5, 50, time.Now())
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNewMetricEventDefaultsTimestamp(t *testing.T) {
	before := time.Now()
	ev, err := NewMetricEvent(uuid.New(), uuid.New(), EmotionNeutral, 0.5, 50, time.Time{})
	require.NoError(t, err)
	assert.False(t, ev.Timestamp.Before(before))
	assert.False(t, ev.Timestamp.After(time.Now()))
}
