package ws

import (
	"context"
	"time"

	"social-service/internal/observability"
)

func wsRoutingKey(channel Channel) string {
	return observability.EventTypeWS + "." + string(channel)
}

// publishLifecycle emits a ws lifecycle event on the event exchange and
// counts it.
func publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(string(info.Channel), event)
	now := time.Now()
	envelope := observability.NewWSLifecycleEvent(event,
		observability.WSSession{
			Channel:    string(info.Channel),
			SessionID:  info.SessionID,
			DurationMS: now.Sub(info.ConnectedAt).Milliseconds(),
			Reason:     reason,
		},
		observability.Identity{UserID: info.UserID, DeviceID: info.DeviceID, IP: info.IP},
		now,
	)
	_ = observability.PublishEvent(ctx, wsRoutingKey(info.Channel), envelope, observability.BuildHeaders(info.RequestID, info.TraceID))
}
