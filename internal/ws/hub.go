package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FollowerLister resolves who should hear about a user's presence.
type FollowerLister interface {
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
}

// Hub ties the registry and router together and announces presence
// transitions.
type Hub struct {
	registry  *Registry
	router    *RoomRouter
	followers FollowerLister
	log       *zap.Logger
}

// NewHub constructs a Hub.
func NewHub(registry *Registry, router *RoomRouter, followers FollowerLister, log *zap.Logger) *Hub {
	return &Hub{registry: registry, router: router, followers: followers, log: log.Named("hub")}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Router() *RoomRouter { return h.router }

// Connect registers a new session for userID, joins its personal room and
// announces the user if this is their first live session.
func (h *Hub) Connect(ctx context.Context, userID string, channel Channel, sink Sink) (Session, error) {
	sessionID := uuid.NewString()
	wentOnline, err := h.registry.Register(userID, sessionID, channel, sink)
	if err != nil {
		return Session{}, err
	}
	if err := h.router.Join(sessionID, UserRoom(userID)); err != nil {
		return Session{}, err
	}
	sess, _ := h.registry.Session(sessionID)
	if wentOnline {
		h.announce(ctx, userID, EventUserOnline, sess.ConnectedAt)
	}
	return sess, nil
}

// Disconnect removes a session and announces the user if it was their last.
func (h *Hub) Disconnect(ctx context.Context, sessionID string) {
	sess, ok := h.registry.Session(sessionID)
	if !ok {
		return
	}
	if h.registry.Remove(sessionID) {
		h.announce(ctx, sess.UserID, EventUserOffline, h.registry.Presence(sess.UserID).LastSeen)
	}
}

// announce sends one presence event over the union of the followers'
// personal rooms.
func (h *Hub) announce(ctx context.Context, userID string, event Event, at time.Time) {
	if h.followers == nil {
		return
	}
	followerIDs, err := h.followers.FollowerIDs(ctx, userID)
	if err != nil {
		h.log.Warn("presence announce skipped", zap.String("user_id", userID), zap.String("event", string(event)), zap.Error(err))
		return
	}
	if len(followerIDs) == 0 {
		return
	}
	rooms := make([]Room, 0, len(followerIDs))
	for _, id := range followerIDs {
		rooms = append(rooms, UserRoom(id))
	}
	n := h.router.BroadcastRooms(rooms, event, PresencePayload{UserID: userID, LastSeen: at}, "")
	h.log.Debug("presence announced", zap.String("user_id", userID), zap.String("event", string(event)), zap.Int("sessions", n))
}
