// Package delivery persists conversation messages and drives their
// sent/delivered/read lifecycle and real-time fan-out.
package delivery

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/bus"
	"social-service/internal/models"
	"social-service/internal/observability"
	"social-service/internal/repositories"
	"social-service/internal/ws"
)

const (
	MaxContentRunes     = 4000
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	participantCacheLen = 4096
)

// Rooms is the part of the room router the coordinator needs.
type Rooms interface {
	Broadcast(room ws.Room, event ws.Event, payload any, excludeSessionID string) int
	Join(sessionID string, room ws.Room) error
}

// Sessions looks up live sessions of a user.
type Sessions interface {
	SessionsFor(userID string) []string
	Session(sessionID string) (ws.Session, bool)
}

// EventPublisher announces mutations to caches on every node.
type EventPublisher interface {
	Publish(ctx context.Context, ev bus.MutationEvent) error
}

// Auditor records destructive operations.
type Auditor interface {
	Record(ctx context.Context, action, entityID, requestID, userID string)
}

// Coordinator owns message persistence and delivery state.
type Coordinator struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	rooms         Rooms
	sessions      Sessions
	events        EventPublisher
	audit         Auditor
	participants  *lru.Cache // conversationID -> []string
	log           *zap.Logger
	now           func() time.Time
}

// NewCoordinator constructs Coordinator.
func NewCoordinator(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	rooms Rooms,
	sessions Sessions,
	events EventPublisher,
	audit Auditor,
	log *zap.Logger,
) (*Coordinator, error) {
	cache, err := lru.New(participantCacheLen)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		conversations: conversations,
		messages:      messages,
		rooms:         rooms,
		sessions:      sessions,
		events:        events,
		audit:         audit,
		participants:  cache,
		log:           log.Named("delivery"),
		now:           time.Now,
	}, nil
}

// Register evicts cached participant sets when a conversation changes.
func (c *Coordinator) Register(b *bus.Bus) {
	b.Subscribe(bus.KindConversationUpdated, "delivery.participants", func(_ context.Context, ev bus.MutationEvent) error {
		c.participants.Remove(ev.EntityID)
		return nil
	})
}

// CreateConversation starts a conversation between creatorID and
// participantIDs. Duplicates are removed and the creator is always included.
func (c *Coordinator) CreateConversation(ctx context.Context, creatorID string, participantIDs []string, kind models.ConversationKind) (*models.Conversation, error) {
	if creatorID == "" {
		return nil, apperr.Validation("creator id is required")
	}
	members := dedupe(append([]string{creatorID}, participantIDs...))
	if len(members) < 2 {
		return nil, apperr.Validation("a conversation needs at least two participants")
	}
	switch kind {
	case "":
		kind = models.ConversationGroup
		if len(members) == 2 {
			kind = models.ConversationDirect
		}
	case models.ConversationDirect:
		if len(members) != 2 {
			return nil, apperr.Validation("a direct conversation has exactly two participants")
		}
	case models.ConversationGroup:
	default:
		return nil, apperr.Validation("unknown conversation kind %q", kind)
	}

	now := c.now().UTC()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		ParticipantIDs: members,
		Kind:           kind,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}

	if err := c.events.Publish(ctx, bus.MutationEvent{Kind: bus.KindConversationUpdated, EntityID: conv.ID, ActorID: creatorID}); err != nil {
		c.log.Warn("conversation.updated subscribers failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	// Participants already online on the messaging channel start receiving
	// the new conversation without reconnecting.
	room := ws.ConversationRoom(conv.ID)
	for _, userID := range members {
		for _, sessionID := range c.sessions.SessionsFor(userID) {
			if sess, ok := c.sessions.Session(sessionID); ok && sess.Channel == ws.ChannelMessaging {
				_ = c.rooms.Join(sessionID, room)
			}
		}
	}
	return conv, nil
}

// Send persists a message from senderID as sent and pushes it to the
// conversation room. Recipients also get a transient notification.
func (c *Coordinator) Send(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	ctx, span := otel.Tracer("social-service/delivery").Start(ctx, "delivery.send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if err := validateContent(content); err != nil {
		return nil, err
	}
	members, err := c.participantsOf(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !contains(members, senderID) {
		return nil, apperr.Unauthorized("not a participant of this conversation")
	}

	seq, err := c.conversations.NextSeq(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := c.now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Seq:            seq,
		SenderID:       senderID,
		Content:        content,
		Status:         models.StatusSent,
		DeliveredTo:    []string{},
		ReadBy:         []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.messages.Create(ctx, msg); err != nil {
		span.RecordError(err)
		return nil, err
	}
	observability.IncMessageTransition(string(models.StatusSent))

	c.rooms.Broadcast(ws.ConversationRoom(conversationID), ws.EventMessageSend, ws.NewMessageSendPayload(msg), "")
	for _, recipient := range without(members, senderID) {
		c.rooms.Broadcast(ws.UserRoom(recipient), ws.EventNotificationNew, ws.NotificationPayload{
			Notification: &models.Notification{
				ID:          uuid.NewString(),
				Type:        models.NotificationMessage,
				SenderID:    senderID,
				RecipientID: recipient,
				TargetID:    conversationID,
				CreatedAt:   now,
			},
		}, "")
	}
	return msg, nil
}

// MarkDelivered records that userID received the message.
func (c *Coordinator) MarkDelivered(ctx context.Context, messageID, userID string) (*models.Message, error) {
	return c.mark(ctx, messageID, userID, models.ReceiptDelivered)
}

// MarkRead records that userID read the message. Reading implies delivery.
func (c *Coordinator) MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error) {
	return c.mark(ctx, messageID, userID, models.ReceiptRead)
}

func (c *Coordinator) mark(ctx context.Context, messageID, userID string, kind models.ReceiptKind) (*models.Message, error) {
	msg, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.DeletedAt != nil {
		return nil, apperr.NotFound("message")
	}
	members, err := c.participantsOf(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !contains(members, userID) {
		return nil, apperr.Unauthorized("not a participant of this conversation")
	}
	if msg.SenderID == userID {
		return msg, nil
	}

	msg, changed, err := c.messages.AddReceipt(ctx, messageID, userID, kind)
	if err != nil {
		return nil, err
	}
	if changed {
		event := ws.EventMessageDelivered
		if kind == models.ReceiptRead {
			event = ws.EventMessageRead
		}
		c.rooms.Broadcast(ws.ConversationRoom(msg.ConversationID), event, ws.ReceiptPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			UserID:         userID,
			Timestamp:      c.now().UTC(),
		}, "")
	}

	if err := c.advance(ctx, msg, without(members, msg.SenderID)); err != nil {
		return nil, err
	}
	return msg, nil
}

// advance moves the message status forward once every recipient is in the
// corresponding set. The store refuses backward moves.
func (c *Coordinator) advance(ctx context.Context, msg *models.Message, recipients []string) error {
	for _, step := range []struct {
		status models.MessageStatus
		set    []string
	}{
		{models.StatusRead, msg.ReadBy},
		{models.StatusDelivered, msg.DeliveredTo},
	} {
		if msg.Status.Rank() >= step.status.Rank() || !containsAll(step.set, recipients) {
			continue
		}
		moved, err := c.messages.AdvanceStatus(ctx, msg.ID, step.status)
		if err != nil {
			return err
		}
		if moved {
			observability.IncMessageTransition(string(step.status))
		}
		msg.Status = step.status
		msg.StatusRank = step.status.Rank()
		return nil
	}
	return nil
}

// Edit replaces the content of a message. Only its sender may edit it and
// the previous content is kept in the edit history.
func (c *Coordinator) Edit(ctx context.Context, messageID, userID, content string) (*models.Message, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	msg, err := c.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}

	prev := models.MessageEdit{Content: msg.Content, EditedAt: c.now().UTC()}
	updated, err := c.messages.Edit(ctx, messageID, userID, prev, content)
	if err != nil {
		return nil, err
	}
	observability.IncMessageTransition("edited")

	c.rooms.Broadcast(ws.ConversationRoom(updated.ConversationID), ws.EventMessageEdit, ws.MessageChangePayload{
		MessageID:      updated.ID,
		ConversationID: updated.ConversationID,
		Content:        &updated.Content,
	}, "")
	c.publish(ctx, bus.KindMessageEdited, updated.ID, userID)
	return updated, nil
}

// Delete soft-deletes a message. Only its sender may delete it.
func (c *Coordinator) Delete(ctx context.Context, messageID, userID string) error {
	msg, err := c.ownMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	deleted, err := c.messages.SoftDelete(ctx, msg.ID, userID, c.now().UTC())
	if err != nil {
		return err
	}
	observability.IncMessageTransition("deleted")

	c.rooms.Broadcast(ws.ConversationRoom(deleted.ConversationID), ws.EventMessageDelete, ws.MessageChangePayload{
		MessageID:      deleted.ID,
		ConversationID: deleted.ConversationID,
	}, "")
	c.publish(ctx, bus.KindMessageDeleted, deleted.ID, userID)
	if c.audit != nil {
		c.audit.Record(ctx, "message_delete", deleted.ID, observability.RequestID(ctx), userID)
	}
	return nil
}

// GetConversation returns the conversation and its latest messages in
// sequence order. Only participants may read it.
func (c *Coordinator) GetConversation(ctx context.Context, conversationID, userID string, limit int) (*models.ConversationView, error) {
	conv, err := c.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	c.participants.Add(conv.ID, conv.ParticipantIDs)
	if !conv.HasParticipant(userID) {
		return nil, apperr.Unauthorized("not a participant of this conversation")
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	msgs, err := c.messages.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return &models.ConversationView{Conversation: conv, Messages: msgs}, nil
}

// ListConversations returns the ids of every conversation userID is in.
func (c *Coordinator) ListConversations(ctx context.Context, userID string) ([]string, error) {
	return c.conversations.ListIDsForUser(ctx, userID)
}

// JoinConversationRooms subscribes a messaging session to every
// conversation of its user.
func (c *Coordinator) JoinConversationRooms(ctx context.Context, sessionID, userID string) error {
	ids, err := c.conversations.ListIDsForUser(ctx, userID)
	if err != nil {
		return err
	}
	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, c.rooms.Join(sessionID, ws.ConversationRoom(id)))
	}
	return errs
}

// Authorize reports whether userID may join the conversation room.
func (c *Coordinator) Authorize(ctx context.Context, conversationID, userID string) error {
	members, err := c.participantsOf(ctx, conversationID)
	if err != nil {
		return err
	}
	if !contains(members, userID) {
		return apperr.Unauthorized("not a participant of this conversation")
	}
	return nil
}

func (c *Coordinator) ownMessage(ctx context.Context, messageID, userID string) (*models.Message, error) {
	msg, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperr.Unauthorized("only the sender may change a message")
	}
	if msg.DeletedAt != nil {
		return nil, apperr.NotFound("message")
	}
	return msg, nil
}

func (c *Coordinator) participantsOf(ctx context.Context, conversationID string) ([]string, error) {
	if v, ok := c.participants.Get(conversationID); ok {
		return v.([]string), nil
	}
	conv, err := c.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	c.participants.Add(conversationID, conv.ParticipantIDs)
	return conv.ParticipantIDs, nil
}

func (c *Coordinator) publish(ctx context.Context, kind bus.Kind, entityID, actorID string) {
	if err := c.events.Publish(ctx, bus.MutationEvent{Kind: kind, EntityID: entityID, ActorID: actorID}); err != nil {
		c.log.Warn("mutation subscribers failed", zap.String("kind", string(kind)), zap.String("entity_id", entityID), zap.Error(err))
	}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return apperr.Validation("content is %d characters, the limit is %d", n, MaxContentRunes)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > 1 {
		sort.Strings(out[1:])
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsAll(set, want []string) bool {
	for _, w := range want {
		if !contains(set, w) {
			return false
		}
	}
	return true
}

func without(set []string, v string) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
