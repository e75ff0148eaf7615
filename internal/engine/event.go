package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Emotion labels accepted by the engine: the seven model labels produced by
// the inference service plus the two derived classroom labels capture clients
// may report directly.
const (
	EmotionAngry    = "angry"
	EmotionDisgust  = "disgust"
	EmotionFear     = "fear"
	EmotionHappy    = "happy"
	EmotionSad      = "sad"
	EmotionSurprise = "surprise"
	EmotionNeutral  = "neutral"
	EmotionConfused = "confused"
	EmotionBored    = "bored"
)

// EngagementMax is the upper bound of the canonical engagement scale.
// Scores are 0-100 everywhere inside the engine and in storage; producers
// reporting 0-1 convert at the boundary.
const EngagementMax = 100.0

var emotionVocabulary = map[string]struct{}{
	EmotionAngry:    {},
	EmotionDisgust:  {},
	EmotionFear:     {},
	EmotionHappy:    {},
	EmotionSad:      {},
	EmotionSurprise: {},
	EmotionNeutral:  {},
	EmotionConfused: {},
	EmotionBored:    {},
}

// ValidEmotion reports whether the label belongs to the fixed vocabulary.
func ValidEmotion(label string) bool {
	_, ok := emotionVocabulary[label]
	return ok
}

// MetricEvent is one validated engagement observation. It can only be built
// through NewMetricEvent, so downstream code never sees out-of-range values.
type MetricEvent struct {
	SessionID       uuid.UUID
	StudentID       uuid.UUID
	Emotion         string
	Confidence      float64 // [0,1]
	EngagementScore float64 // [0,100]
	Timestamp       time.Time
}

// NewMetricEvent normalizes and bounds-checks an incoming observation.
// The emotion label is lowercased and must belong to the fixed vocabulary;
// confidence must be in [0,1] and engagement in [0,100]. A zero timestamp
// defaults to now.
func NewMetricEvent(sessionID, studentID uuid.UUID, emotion string, confidence, engagement float64, ts time.Time) (MetricEvent, error) {
	if sessionID == uuid.Nil {
		return MetricEvent{}, fmt.Errorf("%w: missing session id", ErrValidation)
	}
	if studentID == uuid.Nil {
		return MetricEvent{}, fmt.Errorf("%w: missing student id", ErrValidation)
	}
	label := strings.ToLower(strings.TrimSpace(emotion))
	if !ValidEmotion(label) {
		return MetricEvent{}, fmt.Errorf("%w: unknown emotion %q", ErrValidation, emotion)
	}
	if confidence < 0 || confidence > 1 {
		return MetricEvent{}, fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidRange, confidence)
	}
	if engagement < 0 || engagement > EngagementMax {
		return MetricEvent{}, fmt.Errorf("%w: engagement_score %.3f outside [0,%d]", ErrInvalidRange, engagement, int(EngagementMax))
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return MetricEvent{
		SessionID:       sessionID,
		StudentID:       studentID,
		Emotion:         label,
		Confidence:      confidence,
		EngagementScore: engagement,
		Timestamp:       ts,
	}, nil
}
