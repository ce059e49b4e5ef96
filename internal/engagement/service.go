// Package engagement implements race-free like toggling with authoritative
// counts.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/models"
	"social-service/internal/observability"
	"social-service/internal/repositories"
	"social-service/internal/ws"
)

const defaultMaxAttempts = 8

// errContended means every insert/delete attempt lost to concurrent toggles.
var errContended = errors.New("engagement contended")

// Broadcaster fans an event out to a room.
type Broadcaster interface {
	Broadcast(room ws.Room, event ws.Event, payload any, excludeSessionID string) int
}

// Result is the state of a target after a toggle.
type Result struct {
	IsLiked bool  `json:"isLiked"`
	Count   int64 `json:"count"`
}

// Service toggles likes on posts and comments.
type Service struct {
	records       repositories.EngagementRepository
	targets       repositories.TargetRepository
	notifications repositories.NotificationRepository
	router        Broadcaster
	log           *zap.Logger

	maxAttempts int
	now         func() time.Time
}

// NewService constructs Service.
func NewService(
	records repositories.EngagementRepository,
	targets repositories.TargetRepository,
	notifications repositories.NotificationRepository,
	router Broadcaster,
	log *zap.Logger,
) *Service {
	return &Service{
		records:       records,
		targets:       targets,
		notifications: notifications,
		router:        router,
		log:           log.Named("engagement"),
		maxAttempts:   defaultMaxAttempts,
		now:           time.Now,
	}
}

// Toggle flips userID's like on the target exactly once and returns the
// resulting state. The count is recomputed from records, never read from
// the display counter.
func (s *Service) Toggle(ctx context.Context, userID, targetID string, targetType models.TargetType) (Result, error) {
	ctx, span := otel.Tracer("social-service/engagement").Start(ctx, "engagement.toggle")
	defer span.End()
	span.SetAttributes(attribute.String("target.id", targetID), attribute.String("target.type", string(targetType)))

	if userID == "" || targetID == "" {
		return Result{}, apperr.Validation("user id and target id are required")
	}
	if !targetType.Valid() {
		return Result{}, apperr.Validation("unsupported target type %q", targetType)
	}

	target, err := s.targets.GetTarget(ctx, targetID, targetType)
	if err != nil {
		return Result{}, err
	}

	liked, err := s.flip(ctx, userID, target)
	if errors.Is(err, errContended) {
		// The other toggles won; report where they left the like.
		s.log.Warn("toggle abandoned under contention", zap.String("target_id", targetID), zap.String("user_id", userID), zap.Error(err))
		return s.Status(ctx, userID, targetID, targetType)
	}
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	delta := int64(1)
	action := "like"
	if !liked {
		delta, action = -1, "unlike"
	}
	if err := s.targets.IncLikes(ctx, targetID, targetType, delta); err != nil {
		s.log.Warn("likes counter not updated; left for reconciliation",
			zap.String("target_id", targetID), zap.String("target_type", string(targetType)), zap.Error(err))
	}

	count, err := s.records.Count(ctx, targetID, targetType)
	if err != nil {
		return Result{}, err
	}
	observability.IncEngagementToggle(string(targetType), action)

	s.announce(ctx, userID, target, action, count)
	return Result{IsLiked: liked, Count: count}, nil
}

// Status reports whether userID likes the target and its authoritative count.
func (s *Service) Status(ctx context.Context, userID, targetID string, targetType models.TargetType) (Result, error) {
	if !targetType.Valid() {
		return Result{}, apperr.Validation("unsupported target type %q", targetType)
	}
	if _, err := s.targets.GetTarget(ctx, targetID, targetType); err != nil {
		return Result{}, err
	}
	liked, err := s.records.Exists(ctx, models.EngagementID(userID, targetID, targetType))
	if err != nil {
		return Result{}, err
	}
	count, err := s.records.Count(ctx, targetID, targetType)
	if err != nil {
		return Result{}, err
	}
	return Result{IsLiked: liked, Count: count}, nil
}

// flip inserts the record, or deletes it if it already exists. A delete that
// matched nothing means a concurrent toggle removed the record first, so the
// insert is retried.
func (s *Service) flip(ctx context.Context, userID string, target repositories.Target) (bool, error) {
	rec := models.EngagementRecord{
		ID:         models.EngagementID(userID, target.ID, target.Type),
		UserID:     userID,
		TargetID:   target.ID,
		TargetType: target.Type,
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		rec.CreatedAt = s.now().UTC()
		err := s.records.Insert(ctx, &rec)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return false, err
		}

		deleted, err := s.records.Delete(ctx, rec.ID)
		if err != nil {
			return false, err
		}
		if deleted {
			return false, nil
		}
		observability.IncEngagementConflict()
	}
	return false, fmt.Errorf("toggle %s after %d attempts: %w", rec.ID, s.maxAttempts, errContended)
}

func (s *Service) announce(ctx context.Context, userID string, target repositories.Target, action string, count int64) {
	payload := ws.PostLikePayload{
		PostID:     target.PostID,
		UserID:     userID,
		Action:     action,
		LikesCount: count,
	}
	if target.Type != models.TargetPost {
		payload.TargetID = target.ID
		payload.TargetType = string(target.Type)
	}
	s.router.Broadcast(ws.PostRoom(target.PostID), ws.EventPostLike, payload, "")

	if action != "like" || target.OwnerID == "" || target.OwnerID == userID {
		return
	}
	n := &models.Notification{
		ID:          uuid.NewString(),
		Type:        models.NotificationLike,
		SenderID:    userID,
		RecipientID: target.OwnerID,
		TargetID:    target.ID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		s.log.Warn("like notification not persisted", zap.String("recipient_id", n.RecipientID), zap.Error(err))
		return
	}
	s.router.Broadcast(ws.UserRoom(target.OwnerID), ws.EventNotificationNew, ws.NotificationPayload{Notification: n}, "")
}
