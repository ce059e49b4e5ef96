package models

import "time"

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation is a direct or group thread. LastSeq is the highest
// sequence number handed out to a message of this conversation.
type Conversation struct {
	ID             string           `bson:"_id" json:"id"`
	ParticipantIDs []string         `bson:"participant_ids" json:"participant_ids"`
	Kind           ConversationKind `bson:"kind" json:"kind"`
	LastSeq        int64            `bson:"last_seq" json:"last_seq"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `bson:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Recipients returns every participant except senderID.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}

// ConversationView is returned by the conversation read endpoint.
type ConversationView struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []*Message    `json:"messages"`
}
