package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/observability"
)

type publishedEvent struct {
	key      string
	envelope observability.EventEnvelope
	headers  map[string]string
}

// lifecyclePublisher keeps events by session id; sessions of other tests may
// still be closing.
type lifecyclePublisher struct {
	mu     sync.Mutex
	events map[string][]publishedEvent
}

func (p *lifecyclePublisher) PublishJSON(_ context.Context, routingKey string, message interface{}, headers map[string]string) error {
	env, ok := message.(observability.EventEnvelope)
	if !ok {
		return nil
	}
	payload, ok := env.Payload.(observability.WSLifecycle)
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[payload.WS.SessionID] = append(p.events[payload.WS.SessionID], publishedEvent{key: routingKey, envelope: env, headers: headers})
	return nil
}

func (p *lifecyclePublisher) session(id string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[id]
}

func TestPublishLifecycleSendsTypedEnvelope(t *testing.T) {
	pub := &lifecyclePublisher{events: map[string][]publishedEvent{}}
	observability.SetPublisher(pub)
	defer observability.SetPublisher(nil)

	info := ConnInfo{
		SessionID:   "lifecycle-s1",
		UserID:      "u1",
		Channel:     ChannelMessaging,
		DeviceID:    "d1",
		IP:          "10.0.0.1",
		RequestID:   "req-1",
		ConnectedAt: time.Now().Add(-2 * time.Second),
	}
	publishLifecycle(context.Background(), info, "ws_disconnect", "client_closed")

	events := pub.session("lifecycle-s1")
	require.Len(t, events, 1)
	assert.Equal(t, "ws_events.messaging", events[0].key)
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, events[0].headers)

	env := events[0].envelope
	assert.Equal(t, observability.EventTypeWS, env.EventType)
	assert.Equal(t, "ws_disconnect", env.EventName)
	assert.False(t, env.OccurredAt.IsZero())

	payload, ok := env.Payload.(observability.WSLifecycle)
	require.True(t, ok)
	assert.Equal(t, "ws_disconnect", payload.WS.Event)
	assert.Equal(t, "messaging", payload.WS.Channel)
	assert.Equal(t, "client_closed", payload.WS.Reason)
	assert.GreaterOrEqual(t, payload.WS.DurationMS, int64(2000))
	assert.Equal(t, observability.Identity{UserID: "u1", DeviceID: "d1", IP: "10.0.0.1"}, payload.Identity)
}
