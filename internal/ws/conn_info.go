package ws

import "time"

// ConnInfo is the connection metadata attached to ws lifecycle events.
type ConnInfo struct {
	SessionID   string
	UserID      string
	Channel     Channel
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
