// Package posts creates, edits and deletes posts and comments and tells the
// feed caches about it.
package posts

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/bus"
	"social-service/internal/models"
	"social-service/internal/observability"
	"social-service/internal/repositories"
)

const (
	MaxContentRunes  = 5000
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// FeedWriter pushes a new post into cached feeds.
type FeedWriter interface {
	FanOutPost(ctx context.Context, post *models.Post) error
}

// EventPublisher announces post mutations.
type EventPublisher interface {
	Publish(ctx context.Context, ev bus.MutationEvent) error
}

// Auditor records destructive operations.
type Auditor interface {
	Record(ctx context.Context, action, entityID, requestID, userID string)
}

// Service owns the post lifecycle.
type Service struct {
	posts    repositories.PostRepository
	comments repositories.CommentRepository
	feed     FeedWriter
	events   EventPublisher
	audit    Auditor
	log      *zap.Logger
	now      func() time.Time
}

// NewService constructs Service.
func NewService(
	posts repositories.PostRepository,
	comments repositories.CommentRepository,
	feed FeedWriter,
	events EventPublisher,
	audit Auditor,
	log *zap.Logger,
) *Service {
	return &Service{
		posts:    posts,
		comments: comments,
		feed:     feed,
		events:   events,
		audit:    audit,
		log:      log.Named("posts"),
		now:      time.Now,
	}
}

// Create stores a post and appends it to the cached feeds of the author and
// their followers. Feeds missed here pick the post up when rebuilt.
func (s *Service) Create(ctx context.Context, authorID, content string) (*models.Post, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	post := &models.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	if err := s.feed.FanOutPost(ctx, post); err != nil {
		s.log.Warn("feed fan-out incomplete", zap.String("post_id", post.ID), zap.Error(err))
	}
	return post, nil
}

// Get returns a live post.
func (s *Service) Get(ctx context.Context, postID string) (*models.Post, error) {
	return s.posts.Get(ctx, postID)
}

// Edit replaces the content of a post owned by authorID.
func (s *Service) Edit(ctx context.Context, postID, authorID, content string) (*models.Post, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	if err := s.ensureAuthor(ctx, postID, authorID); err != nil {
		return nil, err
	}
	post, err := s.posts.UpdateContent(ctx, postID, authorID, content, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, bus.KindPostEdited, postID, authorID)
	return post, nil
}

// Delete soft-deletes a post owned by authorID. Feed invalidation has
// finished when Delete returns nil. When it fails the post stays deleted and
// the author may call Delete again to repeat the invalidation.
func (s *Service) Delete(ctx context.Context, postID, authorID string) error {
	post, err := s.posts.Get(ctx, postID)
	switch {
	case err == nil && post.AuthorID != authorID:
		return apperr.Unauthorized("only the author may change a post")
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return err
	}
	// deleted posts read as not found; SoftDelete tells a retry from a miss
	deleted, err := s.posts.SoftDelete(ctx, postID, authorID, s.now().UTC())
	if err != nil {
		return err
	}
	if deleted && s.audit != nil {
		s.audit.Record(ctx, "post_delete", postID, observability.RequestID(ctx), authorID)
	}
	ev := bus.MutationEvent{Kind: bus.KindPostDeleted, EntityID: postID, ActorID: authorID}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("feed invalidation failed", zap.String("post_id", postID), zap.Error(err))
		return apperr.Transient(err, "invalidate feeds")
	}
	return nil
}

// AddComment attaches a comment to a live post.
func (s *Service) AddComment(ctx context.Context, postID, authorID, content string) (*models.Comment, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	if _, err := s.posts.Get(ctx, postID); err != nil {
		return nil, err
	}
	comment := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// Comments lists the comments of a live post, oldest first.
func (s *Service) Comments(ctx context.Context, postID string, limit int) ([]*models.Comment, error) {
	if _, err := s.posts.Get(ctx, postID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.comments.ListByPost(ctx, postID, limit)
}

// ensureAuthor tells a missing post apart from someone else's post.
func (s *Service) ensureAuthor(ctx context.Context, postID, authorID string) error {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != authorID {
		return apperr.Unauthorized("only the author may change a post")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, kind bus.Kind, postID, actorID string) {
	if err := s.events.Publish(ctx, bus.MutationEvent{Kind: kind, EntityID: postID, ActorID: actorID}); err != nil {
		s.log.Warn("post mutation subscribers failed", zap.String("kind", string(kind)), zap.String("post_id", postID), zap.Error(err))
	}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return apperr.Validation("content is %d characters, the limit is %d", n, MaxContentRunes)
	}
	return nil
}
