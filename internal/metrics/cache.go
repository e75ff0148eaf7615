package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// CachedReading is the last observation per student, kept hot in redis for
// dashboards polling individual students.
type CachedReading struct {
	Emotion         string    `json:"emotion"`
	Confidence      float64   `json:"confidence"`
	EngagementScore float64   `json:"engagement_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// Cache stores the latest per-student reading with a short TTL.
type Cache struct {
	rdb *redis.Client
}

// NewCache creates a reading cache.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(sessionID, studentID uuid.UUID) string {
	return fmt.Sprintf("engagement:session:%s:student:%s", sessionID, studentID)
}

// Set stores the latest reading for a student.
func (c *Cache) Set(ctx context.Context, sessionID, studentID uuid.UUID, r CachedReading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(sessionID, studentID), data, cacheTTL).Err()
}

// Get returns the latest cached reading, or nil if absent or expired.
func (c *Cache) Get(ctx context.Context, sessionID, studentID uuid.UUID) (*CachedReading, error) {
	data, err := c.rdb.Get(ctx, cacheKey(sessionID, studentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r CachedReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
