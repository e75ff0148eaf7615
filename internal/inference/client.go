package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client calls the emotion inference service over HTTP. The service receives
// a base64-encoded frame and returns the detected emotion with confidence and
// an engagement score on a 0-1 scale.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an inference client. timeout bounds each call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an inference endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type detectRequest struct {
	Image     string `json:"image"`
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
}

// Detection is the inference service result for one frame.
type Detection struct {
	Emotion         string  `json:"emotion"`
	Confidence      float64 `json:"confidence"`
	EngagementScore float64 `json:"engagement_score"` // 0-1 scale
}

// DetectEmotion submits one frame for analysis. A non-200 response or decode
// failure is returned as an error; callers treat that as no observation for
// this frame.
func (c *Client) DetectEmotion(ctx context.Context, image string, sessionID, studentID uuid.UUID) (*Detection, error) {
	body, err := json.Marshal(detectRequest{
		Image:     image,
		SessionID: sessionID.String(),
		StudentID: studentID.String(),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect_emotion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned %d", resp.StatusCode)
	}

	var d Detection
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return &d, nil
}
