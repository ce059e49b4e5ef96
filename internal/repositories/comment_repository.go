package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-service/internal/db"
	"social-service/internal/models"
)

// CommentRepository abstracts comment persistence.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	ListByPost(ctx context.Context, postID string, limit int) ([]*models.Comment, error)
}

// CommentRepo is a MongoDB implementation of CommentRepository.
type CommentRepo struct {
	coll *mongo.Collection
}

// NewCommentRepo constructs CommentRepo.
func NewCommentRepo(mdb *mongo.Database) *CommentRepo {
	return &CommentRepo{coll: mdb.Collection(db.CollComments)}
}

func (r *CommentRepo) Create(ctx context.Context, comment *models.Comment) error {
	_, err := r.coll.InsertOne(ctx, comment)
	return storeErr(err, "comment", "insert comment")
}

// ListByPost returns live comments of a post, oldest first.
func (r *CommentRepo) ListByPost(ctx context.Context, postID string, limit int) ([]*models.Comment, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"post_id": postID, "deleted_at": bson.M{"$exists": false}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, storeErr(err, "comment", "find comments")
	}
	comments := []*models.Comment{}
	if err := cur.All(ctx, &comments); err != nil {
		return nil, storeErr(err, "comment", "decode comments")
	}
	return comments, nil
}
