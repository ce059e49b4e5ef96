package models

import "time"

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses so a store filter can refuse to move a message
// backwards.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Message represents a conversation message.
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	Seq            int64         `bson:"seq" json:"seq"`
	SenderID       string        `bson:"sender_id" json:"sender_id"`
	Content        string        `bson:"content" json:"content"`
	Status         MessageStatus `bson:"status" json:"status"`
	StatusRank     int           `bson:"status_rank" json:"-"`
	DeliveredTo    []string      `bson:"delivered_to" json:"delivered_to"`
	ReadBy         []string      `bson:"read_by" json:"read_by"`
	EditHistory    []MessageEdit `bson:"edit_history,omitempty" json:"edit_history,omitempty"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time    `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// MessageEdit keeps the previous content of an edited message.
type MessageEdit struct {
	Content  string    `bson:"content" json:"content"`
	EditedAt time.Time `bson:"edited_at" json:"edited_at"`
}

// ReceiptKind selects which receipt set a mark operation touches.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)
