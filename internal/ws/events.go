package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"social-service/internal/models"
)

// Channel partitions websocket sessions by purpose.
type Channel string

const (
	ChannelSocial        Channel = "social"
	ChannelMessaging     Channel = "messaging"
	ChannelNotifications Channel = "notifications"
)

// ParseChannel validates a channel name from the connect request.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelSocial, ChannelMessaging, ChannelNotifications:
		return c, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Event names of the real-time contract.
type Event string

const (
	EventPostLike         Event = "post:like"
	EventUserOnline       Event = "user:online"
	EventUserOffline      Event = "user:offline"
	EventMessageSend      Event = "message:send"
	EventMessageDelivered Event = "message:delivered"
	EventMessageRead      Event = "message:read"
	EventMessageEdit      Event = "message:edit"
	EventMessageDelete    Event = "message:delete"
	EventNotificationNew  Event = "notification:new"
	EventError            Event = "error"
)

// Mode is how an event reaches sessions.
type Mode int

const (
	ModeRoom Mode = iota
	ModeSession
)

type eventDef struct {
	channel Channel // empty means any channel
	mode    Mode
}

var contract = map[Event]eventDef{
	EventPostLike:         {channel: ChannelSocial, mode: ModeRoom},
	EventUserOnline:       {channel: ChannelSocial, mode: ModeRoom},
	EventUserOffline:      {channel: ChannelSocial, mode: ModeRoom},
	EventMessageSend:      {channel: ChannelMessaging, mode: ModeRoom},
	EventMessageDelivered: {channel: ChannelMessaging, mode: ModeRoom},
	EventMessageRead:      {channel: ChannelMessaging, mode: ModeRoom},
	EventMessageEdit:      {channel: ChannelMessaging, mode: ModeRoom},
	EventMessageDelete:    {channel: ChannelMessaging, mode: ModeRoom},
	EventNotificationNew:  {channel: ChannelNotifications, mode: ModeRoom},
	EventError:            {mode: ModeSession},
}

// Accepts reports whether a session on channel c may receive event e.
func (e Event) Accepts(c Channel) bool {
	def, ok := contract[e]
	if !ok {
		return false
	}
	return def.channel == "" || def.channel == c
}

// Mode returns the delivery mode declared for the event.
func (e Event) Mode() Mode {
	return contract[e].mode
}

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event Event, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

type PostLikePayload struct {
	PostID     string `json:"postId"`
	TargetID   string `json:"targetId,omitempty"`
	TargetType string `json:"targetType,omitempty"`
	UserID     string `json:"userId"`
	Action     string `json:"action"`
	LikesCount int64  `json:"likesCount"`
}

type PresencePayload struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type MessageView struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Seq       int64     `json:"seq"`
}

type MessageSendPayload struct {
	ConversationID string      `json:"conversationId"`
	Message        MessageView `json:"message"`
}

// NewMessageSendPayload projects a stored message onto the wire shape.
func NewMessageSendPayload(msg *models.Message) MessageSendPayload {
	return MessageSendPayload{
		ConversationID: msg.ConversationID,
		Message: MessageView{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
			Seq:       msg.Seq,
		},
	}
}

type ReceiptPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessageChangePayload struct {
	MessageID      string  `json:"messageId"`
	ConversationID string  `json:"conversationId"`
	Content        *string `json:"content,omitempty"`
}

type NotificationPayload struct {
	Notification *models.Notification `json:"notification"`
}

type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RequestEvent string `json:"requestEvent,omitempty"`
}
