package models

import "time"

type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationMessage NotificationType = "message"
)

// Notification is pushed on the notifications channel. Like notifications
// are persisted; message notifications are transient.
type Notification struct {
	ID          string           `bson:"_id" json:"id"`
	Type        NotificationType `bson:"type" json:"type"`
	SenderID    string           `bson:"sender_id" json:"senderId"`
	RecipientID string           `bson:"recipient_id" json:"recipientId"`
	TargetID    string           `bson:"target_id,omitempty" json:"targetId,omitempty"`
	CreatedAt   time.Time        `bson:"created_at" json:"createdAt"`
}
