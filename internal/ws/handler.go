package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/auth"
	"social-service/internal/observability"
)

// Inbound commands handled by the transport itself.
const (
	CommandRoomJoin  Event = "room:join"
	CommandRoomLeave Event = "room:leave"
)

// CommandFunc handles one inbound frame from a session.
type CommandFunc func(ctx context.Context, sess Session, data json.RawMessage) error

// RoomAuthorizer decides whether userID may join room.
type RoomAuthorizer func(ctx context.Context, userID string, room Room) error

// ConnectHook runs after a session is registered on a channel.
type ConnectHook func(ctx context.Context, sess Session) error

type roomCommand struct {
	Room string `json:"room"`
}

// Handler upgrades /ws requests and routes inbound frames to commands.
// Commands and hooks must be registered before serving.
type Handler struct {
	hub           *Hub
	authenticator auth.Authenticator
	authorizeRoom RoomAuthorizer
	commands      map[Event]CommandFunc
	hooks         map[Channel][]ConnectHook
	sendBuffer    int
	log           *zap.Logger
	wg            sync.WaitGroup
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, authenticator auth.Authenticator, sendBuffer int, log *zap.Logger) *Handler {
	h := &Handler{
		hub:           hub,
		authenticator: authenticator,
		authorizeRoom: defaultRoomAuthorizer,
		commands:      make(map[Event]CommandFunc),
		hooks:         make(map[Channel][]ConnectHook),
		sendBuffer:    sendBuffer,
		log:           log.Named("ws"),
	}
	h.commands[CommandRoomJoin] = h.joinRoom
	h.commands[CommandRoomLeave] = h.leaveRoom
	return h
}

// On registers fn for inbound frames named event.
func (h *Handler) On(event Event, fn CommandFunc) {
	h.commands[event] = fn
}

// AuthorizeRooms replaces the room join policy.
func (h *Handler) AuthorizeRooms(fn RoomAuthorizer) {
	h.authorizeRoom = fn
}

// OnConnect registers fn to run for every new session on channel.
func (h *Handler) OnConnect(channel Channel, fn ConnectHook) {
	h.hooks[channel] = append(h.hooks[channel], fn)
}

// Wait blocks until every connection goroutine has exited.
func (h *Handler) Wait() {
	h.wg.Wait()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the session.
func (h *Handler) Handle(c *gin.Context) {
	channel, err := ParseChannel(c.DefaultQuery("channel", string(ChannelSocial)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := otel.Tracer("social-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	userID, err := h.authenticator.Authenticate(tokenFromRequest(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn, h.sendBuffer)
	sess, err := h.hub.Connect(ctx, userID, channel, client)
	if err != nil {
		h.log.Error("register session", zap.String("user_id", userID), zap.Error(err))
		_ = conn.Close()
		return
	}

	info := ConnInfo{
		SessionID:   sess.ID,
		UserID:      userID,
		Channel:     channel,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: sess.ConnectedAt,
	}
	publishLifecycle(ctx, info, "ws_connect", "")

	// The request context ends when Handle returns.
	connCtx, cancel := context.WithCancel(context.Background())
	h.runHooks(connCtx, sess)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		if err := client.writePump(); err != nil {
			h.log.Debug("write pump stopped", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()
	go func() {
		defer h.wg.Done()
		defer cancel()
		err := client.readPump(func(data []byte) { h.Dispatch(connCtx, sess, data) })

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishLifecycle(connCtx, info, "ws_error", reason)
		}
		h.hub.Disconnect(connCtx, sess.ID)
		publishLifecycle(connCtx, info, "ws_disconnect", reason)
	}()
}

func (h *Handler) runHooks(ctx context.Context, sess Session) {
	for _, hook := range h.hooks[sess.Channel] {
		hookCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := hook(hookCtx, sess)
		cancel()
		if err != nil {
			h.log.Warn("connect hook failed", zap.String("session_id", sess.ID), zap.Error(err))
			h.sendError(sess, "", err)
		}
	}
}

// Dispatch decodes one inbound frame and runs its command. Failures are
// reported to the originating session only.
func (h *Handler) Dispatch(ctx context.Context, sess Session, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(sess, "", apperr.Validation("malformed frame"))
		return
	}
	fn, ok := h.commands[frame.Event]
	if !ok {
		h.sendError(sess, string(frame.Event), apperr.Validation("unknown event %q", frame.Event))
		return
	}
	if err := fn(ctx, sess, frame.Data); err != nil {
		if apperr.Code(err) == "internal" || apperr.Code(err) == "unavailable" {
			h.log.Error("command failed", zap.String("event", string(frame.Event)), zap.String("session_id", sess.ID), zap.Error(err))
		}
		h.sendError(sess, string(frame.Event), err)
	}
}

func (h *Handler) sendError(sess Session, requestEvent string, err error) {
	h.hub.Router().SendTo(sess.ID, EventError, ErrorPayload{
		Code:         apperr.Code(err),
		Message:      apperr.PublicMessage(err),
		RequestEvent: requestEvent,
	})
}

func (h *Handler) joinRoom(ctx context.Context, sess Session, data json.RawMessage) error {
	room, err := decodeRoom(data)
	if err != nil {
		return err
	}
	if err := h.authorizeRoom(ctx, sess.UserID, room); err != nil {
		return err
	}
	return h.hub.Router().Join(sess.ID, room)
}

func (h *Handler) leaveRoom(_ context.Context, sess Session, data json.RawMessage) error {
	room, err := decodeRoom(data)
	if err != nil {
		return err
	}
	h.hub.Router().Leave(sess.ID, room)
	return nil
}

func decodeRoom(data json.RawMessage) (Room, error) {
	var cmd roomCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return "", apperr.Validation("malformed room command")
	}
	room, err := ParseRoom(cmd.Room)
	if err != nil {
		return "", apperr.Validation("%s", err.Error())
	}
	return room, nil
}

// defaultRoomAuthorizer lets users into post rooms and their own user room.
func defaultRoomAuthorizer(_ context.Context, userID string, room Room) error {
	switch room.Kind() {
	case RoomKindPost:
		return nil
	case RoomKindUser:
		if room.ID() == userID {
			return nil
		}
	}
	return apperr.Unauthorized("cannot join " + string(room))
}

func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return c.Query("token")
}
