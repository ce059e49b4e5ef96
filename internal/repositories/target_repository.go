package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-service/internal/apperr"
	"social-service/internal/db"
	"social-service/internal/models"
)

// Target is the likeable view shared by posts and comments. PostID is the
// post whose room receives like events; for a post it is the post itself.
type Target struct {
	ID         string            `bson:"_id"`
	Type       models.TargetType `bson:"-"`
	OwnerID    string            `bson:"author_id"`
	PostID     string            `bson:"post_id"`
	LikesCount int64             `bson:"likes_count"`
}

// TargetRepository reads likeable targets and maintains their
// denormalized like counters.
type TargetRepository interface {
	GetTarget(ctx context.Context, targetID string, targetType models.TargetType) (Target, error)
	IncLikes(ctx context.Context, targetID string, targetType models.TargetType, delta int64) error
	// SetLikes replaces the display counter only while it still reads from,
	// and reports whether it did.
	SetLikes(ctx context.Context, targetID string, targetType models.TargetType, from, to int64) (bool, error)
	ScanTargets(ctx context.Context, targetType models.TargetType, afterID string, limit int) ([]Target, error)
}

// TargetRepo is a MongoDB implementation of TargetRepository over the posts
// and comments collections.
type TargetRepo struct {
	posts    *mongo.Collection
	comments *mongo.Collection
}

// NewTargetRepo constructs TargetRepo.
func NewTargetRepo(mdb *mongo.Database) *TargetRepo {
	return &TargetRepo{
		posts:    mdb.Collection(db.CollPosts),
		comments: mdb.Collection(db.CollComments),
	}
}

func (r *TargetRepo) collection(targetType models.TargetType) (*mongo.Collection, error) {
	switch targetType {
	case models.TargetPost:
		return r.posts, nil
	case models.TargetComment:
		return r.comments, nil
	default:
		return nil, apperr.Validation("unsupported target type %q", targetType)
	}
}

// GetTarget returns a live post or comment.
func (r *TargetRepo) GetTarget(ctx context.Context, targetID string, targetType models.TargetType) (Target, error) {
	coll, err := r.collection(targetType)
	if err != nil {
		return Target{}, err
	}
	var target Target
	err = coll.FindOne(ctx,
		bson.M{"_id": targetID, "deleted_at": bson.M{"$exists": false}},
		options.FindOne().SetProjection(bson.M{"author_id": 1, "post_id": 1, "likes_count": 1}),
	).Decode(&target)
	if err != nil {
		return Target{}, storeErr(err, string(targetType), "find target")
	}
	target.Type = targetType
	if targetType == models.TargetPost {
		target.PostID = target.ID
	}
	return target, nil
}

// IncLikes adjusts the display counter. It is not authoritative.
func (r *TargetRepo) IncLikes(ctx context.Context, targetID string, targetType models.TargetType, delta int64) error {
	coll, err := r.collection(targetType)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx, bson.M{"_id": targetID}, bson.M{"$inc": bson.M{"likes_count": delta}})
	return storeErr(err, string(targetType), "inc likes")
}

// SetLikes swaps the display counter from a value read earlier to a
// recomputed one. A concurrent IncLikes makes the swap miss.
func (r *TargetRepo) SetLikes(ctx context.Context, targetID string, targetType models.TargetType, from, to int64) (bool, error) {
	coll, err := r.collection(targetType)
	if err != nil {
		return false, err
	}
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": targetID, "likes_count": from},
		bson.M{"$set": bson.M{"likes_count": to}},
	)
	if err != nil {
		return false, storeErr(err, string(targetType), "set likes")
	}
	return res.MatchedCount > 0, nil
}

// ScanTargets pages through targets in _id order starting after afterID.
func (r *TargetRepo) ScanTargets(ctx context.Context, targetType models.TargetType, afterID string, limit int) ([]Target, error) {
	coll, err := r.collection(targetType)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	cur, err := coll.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"author_id": 1, "post_id": 1, "likes_count": 1}),
	)
	if err != nil {
		return nil, storeErr(err, string(targetType), "scan targets")
	}
	var targets []Target
	if err := cur.All(ctx, &targets); err != nil {
		return nil, storeErr(err, string(targetType), "decode targets")
	}
	for i := range targets {
		targets[i].Type = targetType
	}
	return targets, nil
}
