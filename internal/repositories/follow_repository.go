package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"social-service/internal/apperr"
)

// FollowRepository is the follow graph collaborator.
type FollowRepository interface {
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
	FolloweeIDs(ctx context.Context, userID string) ([]string, error)
}

// FollowRepo is a sqlx implementation of FollowRepository.
type FollowRepo struct {
	db *sqlx.DB
}

// NewFollowRepo constructs FollowRepo.
func NewFollowRepo(db *sqlx.DB) *FollowRepo {
	return &FollowRepo{db: db}
}

// Follow records followerID following followeeID. Following twice is a no-op.
func (r *FollowRepo) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return apperr.Validation("cannot follow yourself")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, followerID, followeeID)
	return storeErr(err, "follow", "insert follow")
}

// Unfollow removes the edge if present.
func (r *FollowRepo) Unfollow(ctx context.Context, followerID, followeeID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM follows WHERE follower_id=$1 AND followee_id=$2`, followerID, followeeID)
	return storeErr(err, "follow", "delete follow")
}

// FollowerIDs lists the users following userID.
func (r *FollowRepo) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT follower_id FROM follows WHERE followee_id=$1`, userID)
	return ids, storeErr(err, "follow", "select followers")
}

// FolloweeIDs lists the users userID follows.
func (r *FollowRepo) FolloweeIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT followee_id FROM follows WHERE follower_id=$1`, userID)
	return ids, storeErr(err, "follow", "select followees")
}
