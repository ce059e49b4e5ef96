package posts

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/bus"
	"social-service/internal/feed"
	"social-service/internal/mocks"
)

func TestDeleteSurfacesFailedFeedInvalidation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	store := mocks.NewMemPosts()
	follows := mocks.NewMemFollows()
	require.NoError(t, follows.Follow(ctx, "reader", "alice"))
	feeds := feed.NewService(feed.NewCache(rdb, 100, time.Hour), follows, store, zap.NewNop())
	events := bus.New("node-1", zap.NewNop())
	feeds.Register(events)
	audit := &mocks.AuditorMock{}
	audit.On("Record", mock.Anything, "post_delete", mock.Anything, mock.Anything, "alice").Return().Once()
	svc := NewService(store, mocks.MemComments{Posts: store}, feeds, events, audit, zap.NewNop())

	readFeed := func() []string {
		t.Helper()
		seq, err := feeds.GetFeed(ctx, "reader", 10, 0)
		require.NoError(t, err)
		ids, err := feed.Collect(seq)
		require.NoError(t, err)
		return ids
	}
	require.Empty(t, readFeed())
	post, err := svc.Create(ctx, "alice", "soon gone")
	require.NoError(t, err)
	require.Equal(t, []string{post.ID}, readFeed())

	mr.SetError("ERR redis unavailable")
	err = svc.Delete(ctx, post.ID, "alice")
	require.ErrorIs(t, err, apperr.ErrTransientStore)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.HTTPStatus(err))
	mr.SetError("")

	_, err = svc.Get(ctx, post.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, post.ID, "alice"))
	assert.Empty(t, readFeed())
	audit.AssertExpectations(t)
}
