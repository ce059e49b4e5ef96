package handlers

import (
	"context"
	"encoding/json"

	"social-service/internal/apperr"
	"social-service/internal/delivery"
	"social-service/internal/engagement"
	"social-service/internal/models"
	"social-service/internal/ws"
)

type sendCommand struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type receiptCommand struct {
	MessageID string `json:"messageId"`
}

type likeCommand struct {
	PostID     string `json:"postId"`
	TargetID   string `json:"targetId"`
	TargetType string `json:"targetType"`
}

// RegisterRealtime binds the inbound websocket commands, the room join
// policy and the messaging connect hook to the services.
func RegisterRealtime(h *ws.Handler, coord *delivery.Coordinator, likes *engagement.Service) {
	h.On(ws.EventMessageSend, func(ctx context.Context, sess ws.Session, data json.RawMessage) error {
		var cmd sendCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return err
		}
		_, err := coord.Send(ctx, cmd.ConversationID, sess.UserID, cmd.Content)
		return err
	})
	h.On(ws.EventMessageDelivered, func(ctx context.Context, sess ws.Session, data json.RawMessage) error {
		var cmd receiptCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return err
		}
		_, err := coord.MarkDelivered(ctx, cmd.MessageID, sess.UserID)
		return err
	})
	h.On(ws.EventMessageRead, func(ctx context.Context, sess ws.Session, data json.RawMessage) error {
		var cmd receiptCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return err
		}
		_, err := coord.MarkRead(ctx, cmd.MessageID, sess.UserID)
		return err
	})
	h.On(ws.EventPostLike, func(ctx context.Context, sess ws.Session, data json.RawMessage) error {
		var cmd likeCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return err
		}
		targetID, targetType := cmd.PostID, models.TargetPost
		if cmd.TargetID != "" {
			targetID, targetType = cmd.TargetID, models.TargetType(cmd.TargetType)
		}
		_, err := likes.Toggle(ctx, sess.UserID, targetID, targetType)
		return err
	})

	h.AuthorizeRooms(func(ctx context.Context, userID string, room ws.Room) error {
		switch room.Kind() {
		case ws.RoomKindPost:
			return nil
		case ws.RoomKindUser:
			if room.ID() == userID {
				return nil
			}
		case ws.RoomKindConversation:
			return coord.Authorize(ctx, room.ID(), userID)
		}
		return apperr.Unauthorized("cannot join " + string(room))
	})

	h.OnConnect(ws.ChannelMessaging, func(ctx context.Context, sess ws.Session) error {
		return coord.JoinConversationRooms(ctx, sess.ID, sess.UserID)
	})
}

func decodeCommand(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("missing command data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed command data")
	}
	return nil
}
