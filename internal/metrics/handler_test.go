package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/middleware"
)

type fakeTelemetry struct {
	reasons []string
}

func (f *fakeTelemetry) EventRejected(reason string) {
	f.reasons = append(f.reasons, reason)
}

func postMetric(t *testing.T, h *Handler, sessionID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID.String()+"/metrics", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: sessionID.String()}}
	c.Set(middleware.ContextUserID, uuid.New())
	c.Set(middleware.ContextUserRole, "student")
	h.Ingest(c)
	return w
}

func TestIngestCountsBoundaryRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tel := &fakeTelemetry{}
	eng := engine.New(engine.DefaultConfig(), nil, nil, nil, nil, nil)
	h := NewHandler(eng, nil, nil, nil, tel, zap.NewNop())

	w := postMetric(t, h, uuid.New(), `{"emotion":"happy","confidence":1.5,"engagement_score":50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postMetric(t, h, uuid.New(), `{"emotion":"ecstatic","confidence":0.5,"engagement_score":50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Len(t, tel.reasons, 2, "out-of-range and unknown-emotion events both count as rejected")
	assert.Equal(t, []string{"invalid", "invalid"}, tel.reasons)
}

func TestIngestUnknownSessionNotCountedAtBoundary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tel := &fakeTelemetry{}
	eng := engine.New(engine.DefaultConfig(), nil, nil, nil, nil, nil)
	h := NewHandler(eng, nil, nil, nil, tel, zap.NewNop())

	// a well-formed event for a missing session is the engine's rejection to
	// count, not the handler's
	w := postMetric(t, h, uuid.New(), `{"emotion":"happy","confidence":0.5,"engagement_score":50}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, tel.reasons)
}
