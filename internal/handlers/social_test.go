package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/engagement"
	"social-service/internal/feed"
	"social-service/internal/mocks"
	"social-service/internal/models"
	"social-service/internal/ws"
)

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupSocialRouter(handler *SocialHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser("alice"))
	r.POST("/users/:user_id/follow", handler.Follow)
	r.DELETE("/users/:user_id/follow", handler.Unfollow)
	r.GET("/users/:user_id/presence", handler.Presence)
	r.GET("/notifications", handler.Notifications)
	return r
}

func TestFollowAndUnfollow(t *testing.T) {
	follows := new(mocks.FollowRepositoryMock)
	router := setupSocialRouter(NewSocialHandler(follows, nil, ws.NewRegistry(), zap.NewNop()))

	follows.On("Follow", mock.Anything, "alice", "bob").Return(nil).Once()
	follows.On("Unfollow", mock.Anything, "alice", "bob").Return(nil).Once()
	follows.On("Follow", mock.Anything, "alice", "alice").Return(apperr.Validation("cannot follow yourself")).Once()

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, "/users/bob/follow").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/users/bob/follow").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/users/alice/follow").Code)
	follows.AssertExpectations(t)
}

func TestPresenceEndpoint(t *testing.T) {
	registry := ws.NewRegistry()
	router := setupSocialRouter(NewSocialHandler(nil, nil, registry, zap.NewNop()))

	rec := serve(router, http.MethodGet, "/users/bob/presence")
	require.Equal(t, http.StatusOK, rec.Code)
	var p ws.Presence
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.False(t, p.Online)

	_, err := registry.Register("bob", "s1", ws.ChannelSocial, discardSink{})
	require.NoError(t, err)
	rec = serve(router, http.MethodGet, "/users/bob/presence")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.True(t, p.Online)
	assert.Equal(t, 1, p.ActiveSessions)
}

func TestNotificationsEndpoint(t *testing.T) {
	notifications := new(mocks.NotificationRepositoryMock)
	router := setupSocialRouter(NewSocialHandler(nil, notifications, ws.NewRegistry(), zap.NewNop()))

	notifications.On("ListForRecipient", mock.Anything, "alice", 10).
		Return([]*models.Notification{{ID: "n1", Type: models.NotificationLike, RecipientID: "alice"}}, nil).Once()
	notifications.On("ListForRecipient", mock.Anything, "alice", defaultNotificationLimit).
		Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/notifications?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"n1"`)

	assert.Equal(t, http.StatusInternalServerError, serve(router, http.MethodGet, "/notifications?limit=5000").Code)
	notifications.AssertExpectations(t)
}

type discardSink struct{}

func (discardSink) Send([]byte) bool { return true }
func (discardSink) Close() {}

func TestGetFeedEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := mocks.NewMemPosts()
	follows := mocks.NewMemFollows()
	ctx := context.Background()
	require.NoError(t, follows.Follow(ctx, "alice", "bob"))
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, &models.Post{
			ID: fmt.Sprintf("p%d", i), AuthorID: "bob", Content: "x", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	svc := feed.NewService(feed.NewCache(rdb, 100, time.Hour), follows, store, zap.NewNop())
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withUser("alice"))
	router.GET("/feed", NewFeedHandler(svc, zap.NewNop()).GetFeed)

	rec := serve(router, http.MethodGet, "/feed?limit=2&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		PostIDs []string `json:"post_ids"`
		Limit   int      `json:"limit"`
		Offset  int      `json:"offset"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"p3", "p2"}, resp.PostIDs)
	assert.Equal(t, 2, resp.Limit)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/feed?offset=-1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/feed?limit=x").Code)
}

func TestAdminReconcile(t *testing.T) {
	store := mocks.NewMemPosts()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &models.Post{ID: "p1", AuthorID: "bob", Content: "x", CreatedAt: time.Now()}))
	store.SeedLikes("p1", models.TargetPost, 7)

	reconciler := engagement.NewReconciler(mocks.NewMemEngagements(), store, time.Minute, 10, zap.NewNop())
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withUser("admin"))
	router.POST("/admin/reconcile", NewAdminHandler(reconciler, zap.NewNop()).Reconcile)

	rec := serve(router, http.MethodPost, "/admin/reconcile?target_id=p1&target_type=post")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"corrected":1}`, rec.Body.String())
	assert.Zero(t, store.LikesCount("p1", models.TargetPost))

	rec = serve(router, http.MethodPost, "/admin/reconcile")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"corrected":0}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/admin/reconcile?target_id=p1&target_type=video").Code)
}
