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

// PostRepository abstracts post persistence.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	Get(ctx context.Context, postID string) (*models.Post, error)
	UpdateContent(ctx context.Context, postID, authorID, content string, at time.Time) (*models.Post, error)
	SoftDelete(ctx context.Context, postID, authorID string, at time.Time) (bool, error)
	RecentByAuthors(ctx context.Context, authorIDs []string, limit int) ([]*models.Post, error)
}

// PostRepo is a MongoDB implementation of PostRepository.
type PostRepo struct {
	coll *mongo.Collection
}

// NewPostRepo constructs PostRepo.
func NewPostRepo(mdb *mongo.Database) *PostRepo {
	return &PostRepo{coll: mdb.Collection(db.CollPosts)}
}

func (r *PostRepo) Create(ctx context.Context, post *models.Post) error {
	_, err := r.coll.InsertOne(ctx, post)
	return storeErr(err, "post", "insert post")
}

// Get returns a live post. Soft-deleted posts are reported as not found.
func (r *PostRepo) Get(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	err := r.coll.FindOne(ctx, bson.M{"_id": postID, "deleted_at": bson.M{"$exists": false}}).Decode(&post)
	if err != nil {
		return nil, storeErr(err, "post", "find post")
	}
	return &post, nil
}

// UpdateContent rewrites the content of a live post owned by authorID.
func (r *PostRepo) UpdateContent(ctx context.Context, postID, authorID, content string, at time.Time) (*models.Post, error) {
	var post models.Post
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": postID, "author_id": authorID, "deleted_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"content": content, "edited_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if err != nil {
		return nil, storeErr(err, "post", "update post")
	}
	return &post, nil
}

// SoftDelete marks a post owned by authorID as deleted. It reports false
// without error when the author already deleted it, so a failed delete can
// be retried.
func (r *PostRepo) SoftDelete(ctx context.Context, postID, authorID string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": postID, "author_id": authorID, "deleted_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"deleted_at": at}},
	)
	if err != nil {
		return false, storeErr(err, "post", "delete post")
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": postID, "author_id": authorID})
	if err != nil {
		return false, storeErr(err, "post", "delete post")
	}
	if n == 0 {
		return false, storeErr(mongo.ErrNoDocuments, "post", "delete post")
	}
	return false, nil
}

// RecentByAuthors returns the newest live posts written by any of authorIDs.
func (r *PostRepo) RecentByAuthors(ctx context.Context, authorIDs []string, limit int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	cur, err := r.coll.Find(ctx,
		bson.M{"author_id": bson.M{"$in": authorIDs}, "deleted_at": bson.M{"$exists": false}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, storeErr(err, "post", "find recent posts")
	}
	var posts []*models.Post
	if err := cur.All(ctx, &posts); err != nil {
		return nil, storeErr(err, "post", "decode recent posts")
	}
	return posts, nil
}
