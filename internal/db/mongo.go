package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names of the document store.
const (
	CollPosts         = "posts"
	CollComments      = "comments"
	CollEngagements   = "engagements"
	CollConversations = "conversations"
	CollMessages      = "messages"
	CollNotifications = "notifications"
)

// ConnectMongo dials MongoDB, pings it and ensures the indexes the
// repositories rely on.
func ConnectMongo(ctx context.Context, uri, database string, maxPool uint64, log *zap.Logger) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPool).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	mdb := client.Database(database)
	if err := ensureIndexes(ctx, mdb); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}

	log.Info("mongo connected", zap.String("database", database))
	return mdb, nil
}

func ensureIndexes(ctx context.Context, mdb *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		CollPosts: {
			{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		CollComments: {
			{Keys: bson.D{{Key: "post_id", Value: 1}}},
		},
		CollEngagements: {
			{Keys: bson.D{{Key: "target_type", Value: 1}, {Key: "target_id", Value: 1}}},
		},
		CollConversations: {
			{Keys: bson.D{{Key: "participant_ids", Value: 1}}},
		},
		CollMessages: {
			{
				Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		CollNotifications: {
			{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := mdb.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}
