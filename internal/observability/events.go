package observability

import "time"

// EventTypeWS tags websocket lifecycle envelopes.
const EventTypeWS = "ws_events"

// EventEnvelope is the body of every message on the event exchange.
type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// WSSession describes the websocket session an event belongs to.
type WSSession struct {
	Channel    string `json:"channel"`
	Event      string `json:"event"`
	SessionID  string `json:"session_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// Identity is who held the session.
type Identity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// WSLifecycle is the payload of connect, disconnect and error events.
type WSLifecycle struct {
	WS       WSSession `json:"ws"`
	Identity Identity  `json:"identity"`
}

// NewWSLifecycleEvent wraps a session transition. The session's Event is
// forced to match the envelope name.
func NewWSLifecycleEvent(event string, session WSSession, identity Identity, at time.Time) EventEnvelope {
	session.Event = event
	return EventEnvelope{
		EventType:  EventTypeWS,
		EventName:  event,
		OccurredAt: at.UTC(),
		Payload:    WSLifecycle{WS: session, Identity: identity},
	}
}

// BuildHeaders carries request and trace correlation as AMQP headers.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
