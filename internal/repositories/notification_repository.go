package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-service/internal/db"
	"social-service/internal/models"
)

// NotificationRepository persists notifications that must survive a
// reconnect.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error)
}

// NotificationRepo is a MongoDB implementation of NotificationRepository.
type NotificationRepo struct {
	coll *mongo.Collection
}

// NewNotificationRepo constructs NotificationRepo.
func NewNotificationRepo(mdb *mongo.Database) *NotificationRepo {
	return &NotificationRepo{coll: mdb.Collection(db.CollNotifications)}
}

func (r *NotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	_, err := r.coll.InsertOne(ctx, n)
	return storeErr(err, "notification", "insert notification")
}

// ListForRecipient returns the newest notifications first.
func (r *NotificationRepo) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"recipient_id": recipientID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, storeErr(err, "notification", "find notifications")
	}
	out := []*models.Notification{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr(err, "notification", "decode notifications")
	}
	return out, nil
}
