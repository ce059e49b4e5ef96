package models

import "time"

type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

// Valid reports whether t is a likeable target type.
func (t TargetType) Valid() bool {
	return t == TargetPost || t == TargetComment
}

// EngagementRecord is one user's like of one target. The ID is derived from
// the triple so the store's primary key enforces uniqueness.
type EngagementRecord struct {
	ID         string     `bson:"_id" json:"id"`
	UserID     string     `bson:"user_id" json:"user_id"`
	TargetID   string     `bson:"target_id" json:"target_id"`
	TargetType TargetType `bson:"target_type" json:"target_type"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
}

// EngagementID returns the primary key for (userID, targetID, targetType).
func EngagementID(userID, targetID string, targetType TargetType) string {
	return string(targetType) + "|" + targetID + "|" + userID
}
