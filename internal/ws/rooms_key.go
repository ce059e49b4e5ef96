package ws

import (
	"fmt"
	"strings"
)

// Room is a typed broadcast key such as "conversation:42".
type Room string

const (
	RoomKindUser         = "user"
	RoomKindConversation = "conversation"
	RoomKindPost         = "post"
)

func UserRoom(userID string) Room { return Room(RoomKindUser + ":" + userID) }

func ConversationRoom(conversationID string) Room {
	return Room(RoomKindConversation + ":" + conversationID)
}

func PostRoom(postID string) Room { return Room(RoomKindPost + ":" + postID) }

// ParseRoom validates a room key received from a client.
func ParseRoom(s string) (Room, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return "", fmt.Errorf("malformed room %q", s)
	}
	switch kind {
	case RoomKindUser, RoomKindConversation, RoomKindPost:
		return Room(s), nil
	default:
		return "", fmt.Errorf("unknown room kind %q", kind)
	}
}

// Kind returns the prefix of the room key.
func (r Room) Kind() string {
	kind, _, _ := strings.Cut(string(r), ":")
	return kind
}

// ID returns the entity id part of the room key.
func (r Room) ID() string {
	_, id, _ := strings.Cut(string(r), ":")
	return id
}
