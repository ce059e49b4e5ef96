package feed

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/bus"
	"social-service/internal/models"
	"social-service/internal/observability"
	"social-service/internal/repositories"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	pageSize     = 25
)

// Service serves feeds, writing new posts into cached feeds and rebuilding
// missing ones from the follow graph and the post store.
type Service struct {
	cache      *Cache
	follows    repositories.FollowRepository
	posts      repositories.PostRepository
	maxEntries int
	log        *zap.Logger
}

// NewService constructs Service.
func NewService(cache *Cache, follows repositories.FollowRepository, posts repositories.PostRepository, log *zap.Logger) *Service {
	return &Service{
		cache:      cache,
		follows:    follows,
		posts:      posts,
		maxEntries: cache.maxEntries,
		log:        log.Named("feed"),
	}
}

// Register subscribes the cache to post mutations.
func (s *Service) Register(b *bus.Bus) {
	b.Subscribe(bus.KindPostDeleted, "feed.invalidate", func(ctx context.Context, ev bus.MutationEvent) error {
		n, err := s.cache.Invalidate(ctx, ev.EntityID, true)
		observability.AddFeedInvalidations("deleted", n)
		return err
	})
	b.Subscribe(bus.KindPostEdited, "feed.invalidate", func(ctx context.Context, ev bus.MutationEvent) error {
		n, err := s.cache.Invalidate(ctx, ev.EntityID, false)
		observability.AddFeedInvalidations("edited", n)
		return err
	})
}

// FanOutPost appends post to the cached feeds of its author and followers.
// Feeds that are not cached pick the post up on their next rebuild.
func (s *Service) FanOutPost(ctx context.Context, post *models.Post) error {
	ctx, span := otel.Tracer("social-service/feed").Start(ctx, "feed.fanout")
	defer span.End()

	followers, err := s.follows.FollowerIDs(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	owners := append([]string{post.AuthorID}, followers...)
	span.SetAttributes(attribute.Int("feed.owners", len(owners)))

	entry := Entry{PostID: post.ID, CreatedAt: post.CreatedAt}
	appended := 0
	var errs error
	for _, owner := range owners {
		ok, err := s.cache.Append(ctx, owner, entry)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			appended++
		}
	}
	s.log.Debug("post fanned out",
		zap.String("post_id", post.ID), zap.Int("owners", len(owners)), zap.Int("appended", appended))
	return errs
}

// Rebuild materializes userID's feed from the posts of the user and the
// accounts they follow.
func (s *Service) Rebuild(ctx context.Context, userID string) (int, error) {
	if err := s.cache.BeginRebuild(ctx, userID); err != nil {
		return 0, err
	}
	followees, err := s.follows.FolloweeIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	authors := append([]string{userID}, followees...)
	posts, err := s.posts.RecentByAuthors(ctx, authors, s.maxEntries)
	if err != nil {
		return 0, err
	}

	entries := make([]Entry, 0, len(posts))
	for _, p := range posts {
		if p.Deleted() {
			continue
		}
		entries = append(entries, Entry{PostID: p.ID, CreatedAt: p.CreatedAt})
	}
	return s.cache.Replace(ctx, userID, entries)
}

// GetFeed returns the post ids of userID's feed, newest first. The sequence
// reads the cache page by page as it is consumed and may be ranged over more
// than once.
func (s *Service) GetFeed(ctx context.Context, userID string, limit, offset int) (iter.Seq2[string, error], error) {
	ctx, span := otel.Tracer("social-service/feed").Start(ctx, "feed.get")
	defer span.End()

	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}
	limit = ClampLimit(limit)

	cached, err := s.cache.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cached {
		observability.IncFeedLookup("hit")
	} else {
		observability.IncFeedLookup("miss")
		if _, err := s.Rebuild(ctx, userID); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.Bool("feed.cached", cached))

	return s.sequence(context.WithoutCancel(ctx), userID, limit, offset), nil
}

// sequence ranks start at 1; rank 0 is the sentinel.
func (s *Service) sequence(ctx context.Context, userID string, limit, offset int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		emitted := 0
		start := int64(offset) + 1
		for emitted < limit {
			ids, raw, err := s.cache.Page(ctx, userID, start, start+pageSize-1)
			if err != nil {
				yield("", err)
				return
			}
			for _, id := range ids {
				if !yield(id, nil) {
					return
				}
				emitted++
				if emitted == limit {
					return
				}
			}
			if raw < pageSize {
				return
			}
			start += pageSize
		}
	}
}

// ClampLimit bounds a requested page size to [1, MaxLimit], defaulting to
// DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Collect drains a feed sequence into a slice.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	ids := []string{}
	for id, err := range seq {
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
