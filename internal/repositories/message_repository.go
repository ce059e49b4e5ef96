package repositories

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-service/internal/apperr"
	"social-service/internal/db"
	"social-service/internal/models"
)

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, messageID string) (*models.Message, error)
	// ListByConversation returns up to limit of the newest messages, ordered by seq.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	// AddReceipt adds userID to the receipt set and reports whether the set
	// changed. A read receipt also counts as delivered.
	AddReceipt(ctx context.Context, messageID, userID string, kind models.ReceiptKind) (*models.Message, bool, error)
	// AdvanceStatus moves the status forward only; it reports whether it moved.
	AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, error)
	// Edit replaces content only if it still equals prev.Content.
	Edit(ctx context.Context, messageID, senderID string, prev models.MessageEdit, content string) (*models.Message, error)
	SoftDelete(ctx context.Context, messageID, senderID string, at time.Time) (*models.Message, error)
}

// MessageRepo is a MongoDB implementation of MessageRepository.
type MessageRepo struct {
	coll *mongo.Collection
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(mdb *mongo.Database) *MessageRepo {
	return &MessageRepo{coll: mdb.Collection(db.CollMessages)}
}

func (r *MessageRepo) Create(ctx context.Context, msg *models.Message) error {
	if msg.DeliveredTo == nil {
		msg.DeliveredTo = []string{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	msg.StatusRank = msg.Status.Rank()
	_, err := r.coll.InsertOne(ctx, msg)
	return storeErr(err, "message", "insert message")
}

func (r *MessageRepo) Get(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg); err != nil {
		return nil, storeErr(err, "message", "find message")
	}
	return &msg, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, storeErr(err, "message", "find messages")
	}
	msgs := []*models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, storeErr(err, "message", "decode messages")
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepo) AddReceipt(ctx context.Context, messageID, userID string, kind models.ReceiptKind) (*models.Message, bool, error) {
	field := "delivered_to"
	add := bson.M{"delivered_to": userID}
	if kind == models.ReceiptRead {
		field = "read_by"
		add = bson.M{"read_by": userID, "delivered_to": userID}
	}

	var msg models.Message
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": messageID, field: bson.M{"$ne": userID}},
		bson.M{"$addToSet": add, "$set": bson.M{"updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if err == nil {
		return &msg, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, storeErr(err, "message", "add receipt")
	}

	// Either the message is missing or userID was already in the set.
	current, err := r.Get(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *MessageRepo) AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "status_rank": bson.M{"$lt": to.Rank()}},
		bson.M{"$set": bson.M{"status": to, "status_rank": to.Rank()}},
	)
	if err != nil {
		return false, storeErr(err, "message", "advance status")
	}
	return res.ModifiedCount > 0, nil
}

func (r *MessageRepo) Edit(ctx context.Context, messageID, senderID string, prev models.MessageEdit, content string) (*models.Message, error) {
	var msg models.Message
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{
			"_id":        messageID,
			"sender_id":  senderID,
			"content":    prev.Content,
			"deleted_at": bson.M{"$exists": false},
		},
		bson.M{
			"$set":  bson.M{"content": content, "updated_at": prev.EditedAt},
			"$push": bson.M{"edit_history": prev},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrConflict
	}
	if err != nil {
		return nil, storeErr(err, "message", "edit message")
	}
	return &msg, nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, senderID string, at time.Time) (*models.Message, error) {
	var msg models.Message
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": messageID, "sender_id": senderID, "deleted_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"deleted_at": at, "content": "", "updated_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if err != nil {
		return nil, storeErr(err, "message", "delete message")
	}
	return &msg, nil
}
