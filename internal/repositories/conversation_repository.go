package repositories

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-service/internal/db"
	"social-service/internal/models"
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListIDsForUser(ctx context.Context, userID string) ([]string, error)
	// NextSeq atomically reserves the next message sequence number.
	NextSeq(ctx context.Context, conversationID string) (int64, error)
}

// ConversationRepo is a MongoDB implementation of ConversationRepository.
type ConversationRepo struct {
	coll *mongo.Collection
}

// NewConversationRepo constructs ConversationRepo.
func NewConversationRepo(mdb *mongo.Database) *ConversationRepo {
	return &ConversationRepo{coll: mdb.Collection(db.CollConversations)}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *models.Conversation) error {
	_, err := r.coll.InsertOne(ctx, conv)
	return storeErr(err, "conversation", "insert conversation")
}

func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conv); err != nil {
		return nil, storeErr(err, "conversation", "find conversation")
	}
	return &conv, nil
}

func (r *ConversationRepo) ListIDsForUser(ctx context.Context, userID string) ([]string, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"participant_ids": userID},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, storeErr(err, "conversation", "find conversations")
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storeErr(err, "conversation", "decode conversations")
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (r *ConversationRepo) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	var after struct {
		LastSeq int64 `bson:"last_seq"`
	}
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"last_seq": 1}, "$set": bson.M{"updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"last_seq": 1}),
	).Decode(&after)
	if err != nil {
		return 0, storeErr(err, "conversation", "reserve seq")
	}
	return after.LastSeq, nil
}
