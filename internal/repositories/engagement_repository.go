package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"social-service/internal/apperr"
	"social-service/internal/db"
	"social-service/internal/models"
)

// EngagementRepository stores like records. Insert and Delete are single
// conditional writes; uniqueness comes from the deterministic record id.
type EngagementRepository interface {
	// Insert returns apperr.ErrConflict when the record already exists.
	Insert(ctx context.Context, rec *models.EngagementRecord) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, recordID string) (bool, error)
	Exists(ctx context.Context, recordID string) (bool, error)
	Count(ctx context.Context, targetID string, targetType models.TargetType) (int64, error)
}

// EngagementRepo is a MongoDB implementation of EngagementRepository.
type EngagementRepo struct {
	coll *mongo.Collection
}

// NewEngagementRepo constructs EngagementRepo.
func NewEngagementRepo(mdb *mongo.Database) *EngagementRepo {
	return &EngagementRepo{coll: mdb.Collection(db.CollEngagements)}
}

func (r *EngagementRepo) Insert(ctx context.Context, rec *models.EngagementRecord) error {
	_, err := r.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrConflict
	}
	return storeErr(err, "engagement", "insert engagement")
}

func (r *EngagementRepo) Delete(ctx context.Context, recordID string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": recordID})
	if err != nil {
		return false, storeErr(err, "engagement", "delete engagement")
	}
	return res.DeletedCount == 1, nil
}

func (r *EngagementRepo) Exists(ctx context.Context, recordID string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": recordID})
	if err != nil {
		return false, storeErr(err, "engagement", "find engagement")
	}
	return n > 0, nil
}

// Count is the authoritative like count of a target.
func (r *EngagementRepo) Count(ctx context.Context, targetID string, targetType models.TargetType) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"target_id": targetID, "target_type": targetType})
	if err != nil {
		return 0, storeErr(err, "engagement", "count engagements")
	}
	return n, nil
}
