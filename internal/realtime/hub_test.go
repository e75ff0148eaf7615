package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(sessionID uuid.UUID, buffer int) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    uuid.New(),
		Role:      "student",
		send:      make(chan WSMessage, buffer),
	}
}

func TestHubConcurrentRegisterAndBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	sid := uuid.New()

	const n = 500
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			hub.Register(newTestClient(sid, 1))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			hub.BroadcastToSession(sid, "snapshot", map[string]int{"i": i})
		}
	}()
	go func() {
		defer wg.Done()
		c := newTestClient(sid, 1)
		for i := 0; i < n; i++ {
			hub.Register(c)
			hub.Unregister(c)
		}
	}()
	wg.Wait()

	assert.Equal(t, n, hub.AudienceCount(sid))
}

func TestHubSkipsFullBuffers(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	sid := uuid.New()
	c := newTestClient(sid, 1)
	hub.Register(c)

	hub.BroadcastToSession(sid, "snapshot", map[string]int{"seq": 1})
	hub.BroadcastToSession(sid, "snapshot", map[string]int{"seq": 2})

	// the second send is skipped rather than blocking the broadcaster
	require.Len(t, c.send, 1)
	first := <-c.send
	assert.Equal(t, "snapshot", first.Event)
	assert.JSONEq(t, `{"seq":1}`, string(first.Data))

	// once the slow consumer drains, the next broadcast lands
	hub.BroadcastToSession(sid, "snapshot", map[string]int{"seq": 3})
	next := <-c.send
	assert.JSONEq(t, `{"seq":3}`, string(next.Data))
}

func TestHubBroadcastScopedToSession(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	sidA, sidB := uuid.New(), uuid.New()
	a := newTestClient(sidA, 4)
	b := newTestClient(sidB, 4)
	hub.Register(a)
	hub.Register(b)

	hub.BroadcastToSession(sidA, "alert", map[string]string{"message": "hi"})

	assert.Len(t, a.send, 1)
	assert.Empty(t, b.send)
}

func TestHubPublishWithoutRedisDeliversLocally(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	sid := uuid.New()
	c := newTestClient(sid, 4)
	hub.Register(c)

	hub.Publish(sid, "status_change", map[string]string{"type": "participant_joined"})

	require.Len(t, c.send, 1)
	msg := <-c.send
	assert.Equal(t, "status_change", msg.Event)
}

func TestHubUnregisterEmptiesRoom(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	sid := uuid.New()
	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient(sid, 1)
		hub.Register(clients[i])
	}
	require.Equal(t, 3, hub.AudienceCount(sid))

	for _, c := range clients {
		hub.Unregister(c)
	}
	assert.Zero(t, hub.AudienceCount(sid))

	// broadcasting to an empty room is a no-op, not a panic
	hub.BroadcastToSession(sid, "snapshot", fmt.Sprintf("after close %d", 1))
}
