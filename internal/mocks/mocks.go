package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"social-service/internal/models"
	"social-service/internal/repositories"
)

var (
	_ repositories.PostRepository         = (*PostRepositoryMock)(nil)
	_ repositories.FollowRepository       = (*FollowRepositoryMock)(nil)
	_ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
)

type PostRepositoryMock struct {
	mock.Mock
}

func (m *PostRepositoryMock) Create(ctx context.Context, post *models.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *PostRepositoryMock) Get(ctx context.Context, postID string) (*models.Post, error) {
	args := m.Called(ctx, postID)
	var post *models.Post
	if val := args.Get(0); val != nil {
		post = val.(*models.Post)
	}
	return post, args.Error(1)
}

func (m *PostRepositoryMock) UpdateContent(ctx context.Context, postID, authorID, content string, at time.Time) (*models.Post, error) {
	args := m.Called(ctx, postID, authorID, content, at)
	var post *models.Post
	if val := args.Get(0); val != nil {
		post = val.(*models.Post)
	}
	return post, args.Error(1)
}

func (m *PostRepositoryMock) SoftDelete(ctx context.Context, postID, authorID string, at time.Time) (bool, error) {
	args := m.Called(ctx, postID, authorID, at)
	return args.Bool(0), args.Error(1)
}

func (m *PostRepositoryMock) RecentByAuthors(ctx context.Context, authorIDs []string, limit int) ([]*models.Post, error) {
	args := m.Called(ctx, authorIDs, limit)
	var list []*models.Post
	if val := args.Get(0); val != nil {
		list = val.([]*models.Post)
	}
	return list, args.Error(1)
}

type FollowRepositoryMock struct {
	mock.Mock
}

func (m *FollowRepositoryMock) Follow(ctx context.Context, followerID, followeeID string) error {
	args := m.Called(ctx, followerID, followeeID)
	return args.Error(0)
}

func (m *FollowRepositoryMock) Unfollow(ctx context.Context, followerID, followeeID string) error {
	args := m.Called(ctx, followerID, followeeID)
	return args.Error(0)
}

func (m *FollowRepositoryMock) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *FollowRepositoryMock) FolloweeIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) Create(ctx context.Context, n *models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *NotificationRepositoryMock) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error) {
	args := m.Called(ctx, recipientID, limit)
	var list []*models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]*models.Notification)
	}
	return list, args.Error(1)
}

// FeedWriterMock stands in for the feed fan-out of new posts.
type FeedWriterMock struct {
	mock.Mock
}

func (m *FeedWriterMock) FanOutPost(ctx context.Context, post *models.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

// AuditorMock records audit calls.
type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Record(ctx context.Context, action, entityID, requestID, userID string) {
	m.Called(ctx, action, entityID, requestID, userID)
}
