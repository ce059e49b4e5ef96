package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/bus"
	"social-service/internal/mocks"
	"social-service/internal/models"
)

type feedFixture struct {
	mr      *miniredis.Miniredis
	cache   *Cache
	svc     *Service
	follows *mocks.MemFollows
	posts   *mocks.MemPosts
	base    time.Time
}

func newFeedFixture(t *testing.T, maxEntries int) *feedFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &feedFixture{
		mr:      mr,
		cache:   NewCache(rdb, maxEntries, time.Hour),
		follows: mocks.NewMemFollows(),
		posts:   mocks.NewMemPosts(),
		base:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.cache, f.follows, f.posts, zap.NewNop())
	return f
}

func (f *feedFixture) post(t *testing.T, id, author string, minute int) *models.Post {
	t.Helper()
	p := &models.Post{ID: id, AuthorID: author, Content: id, CreatedAt: f.base.Add(time.Duration(minute) * time.Minute)}
	require.NoError(t, f.posts.Create(context.Background(), p))
	return p
}

func (f *feedFixture) feed(t *testing.T, userID string, limit, offset int) []string {
	t.Helper()
	seq, err := f.svc.GetFeed(context.Background(), userID, limit, offset)
	require.NoError(t, err)
	ids, err := Collect(seq)
	require.NoError(t, err)
	return ids
}

func TestGetFeedRebuildsOnMiss(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.follows.Follow(ctx, "reader", "alice"))
	require.NoError(t, f.follows.Follow(ctx, "reader", "bob"))
	f.post(t, "a1", "alice", 1)
	f.post(t, "b1", "bob", 2)
	f.post(t, "c1", "carol", 3)
	f.post(t, "r1", "reader", 4)

	ids := f.feed(t, "reader", 0, 0)
	assert.Equal(t, []string{"r1", "b1", "a1"}, ids)

	cached, err := f.cache.Exists(ctx, "reader")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.True(t, f.mr.TTL(feedKey("reader")) > 0)
}

func TestGetFeedEmptyFeedIsCached(t *testing.T) {
	f := newFeedFixture(t, 100)

	assert.Empty(t, f.feed(t, "loner", 10, 0))

	cached, err := f.cache.Exists(context.Background(), "loner")
	require.NoError(t, err)
	assert.True(t, cached)

	// A post written after materialization arrives through fan-out.
	p := f.post(t, "l1", "loner", 1)
	require.NoError(t, f.svc.FanOutPost(context.Background(), p))
	assert.Equal(t, []string{"l1"}, f.feed(t, "loner", 10, 0))
}

func TestFanOutSkipsFeedsNotCached(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.follows.Follow(ctx, "warm", "author"))
	require.NoError(t, f.follows.Follow(ctx, "cold", "author"))

	assert.Empty(t, f.feed(t, "warm", 10, 0))

	p := f.post(t, "p1", "author", 1)
	require.NoError(t, f.svc.FanOutPost(ctx, p))

	assert.True(t, f.mr.Exists(feedKey("warm")))
	assert.False(t, f.mr.Exists(feedKey("cold")))
	members, err := f.mr.SMembers(refsKey("p1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"warm"}, members)

	// The cold feed is built from the store on first read.
	assert.Equal(t, []string{"p1"}, f.feed(t, "cold", 10, 0))
}

func TestDeletedPostLeavesEveryCachedFeed(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()

	users := make([]string, 10)
	for i := range users {
		users[i] = fmt.Sprintf("user-%02d", i)
		require.NoError(t, f.follows.Follow(ctx, users[i], "author"))
	}
	f.post(t, "keep", "author", 1)
	doomed := f.post(t, "doomed", "author", 2)

	for _, u := range users {
		require.Equal(t, []string{"doomed", "keep"}, f.feed(t, u, 10, 0))
	}

	_, err := f.posts.SoftDelete(ctx, doomed.ID, "author", f.base.Add(time.Hour))
	require.NoError(t, err)
	removed, err := f.cache.Invalidate(ctx, doomed.ID, true)
	require.NoError(t, err)
	assert.Equal(t, len(users), removed)

	for _, u := range users {
		assert.True(t, f.mr.TTL(feedKey(u)) > 0, "feed of %s should not have expired", u)
		assert.Equal(t, []string{"keep"}, f.feed(t, u, 10, 0))
	}
}

func TestTombstoneBlocksStaleRebuild(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()

	_, err := f.cache.Invalidate(ctx, "gone", true)
	require.NoError(t, err)

	// A rebuild that read the post before it was deleted.
	added, err := f.cache.Replace(ctx, "reader", []Entry{
		{PostID: "gone", CreatedAt: f.base.Add(2 * time.Minute)},
		{PostID: "live", CreatedAt: f.base.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	appended, err := f.cache.Append(ctx, "reader", Entry{PostID: "gone", CreatedAt: f.base})
	require.NoError(t, err)
	assert.False(t, appended)

	tomb, err := f.cache.Tombstoned(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, tomb)
	assert.Equal(t, []string{"live"}, f.feed(t, "reader", 10, 0))
}

func TestTombstonesArePruned(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()

	f.cache.now = func() time.Time { return f.base }
	_, err := f.cache.Invalidate(ctx, "old", true)
	require.NoError(t, err)

	f.cache.now = func() time.Time { return f.base.Add(2 * time.Hour) }
	_, err = f.cache.Invalidate(ctx, "new", true)
	require.NoError(t, err)

	old, err := f.cache.Tombstoned(ctx, "old")
	require.NoError(t, err)
	assert.False(t, old)
	fresh, err := f.cache.Tombstoned(ctx, "new")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestEditedPostDropsHolderFeeds(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.follows.Follow(ctx, "reader", "author"))
	p := f.post(t, "p1", "author", 1)

	require.Equal(t, []string{"p1"}, f.feed(t, "reader", 10, 0))

	_, err := f.posts.UpdateContent(ctx, p.ID, "author", "edited", f.base.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.cache.Invalidate(ctx, p.ID, false)
	require.NoError(t, err)

	assert.False(t, f.mr.Exists(feedKey("reader")))
	tomb, err := f.cache.Tombstoned(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, tomb)
	assert.Equal(t, []string{"p1"}, f.feed(t, "reader", 10, 0))
}

func TestFeedIsTrimmedToMaxEntries(t *testing.T) {
	f := newFeedFixture(t, 3)
	ctx := context.Background()

	assert.Empty(t, f.feed(t, "author", 10, 0))
	for i := 1; i <= 5; i++ {
		p := f.post(t, fmt.Sprintf("p%d", i), "author", i)
		require.NoError(t, f.svc.FanOutPost(ctx, p))
	}

	assert.Equal(t, []string{"p5", "p4", "p3"}, f.feed(t, "author", 10, 0))
}

func TestGetFeedPagesLazilyAndRestarts(t *testing.T) {
	f := newFeedFixture(t, 200)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		f.post(t, fmt.Sprintf("p%02d", i), "author", i)
	}

	seq, err := f.svc.GetFeed(ctx, "author", 50, 5)
	require.NoError(t, err)

	first, err := Collect(seq)
	require.NoError(t, err)
	require.Len(t, first, 50)
	assert.Equal(t, "p54", first[0])
	assert.Equal(t, "p05", first[49])

	second, err := Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Stopping early is allowed.
	var got []string
	for id, err := range seq {
		require.NoError(t, err)
		got = append(got, id)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"p54", "p53", "p52"}, got)

	tail := f.feed(t, "author", 100, 58)
	assert.Equal(t, []string{"p01", "p00"}, tail)
	assert.Empty(t, f.feed(t, "author", 10, 500))
}

func TestGetFeedValidation(t *testing.T) {
	f := newFeedFixture(t, 10)

	_, err := f.svc.GetFeed(context.Background(), "reader", 10, -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.GetFeed(context.Background(), "", 10, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetFeedStoreUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	svc := NewService(NewCache(rdb, 10, time.Hour), mocks.NewMemFollows(), mocks.NewMemPosts(), zap.NewNop())

	_, err := svc.GetFeed(context.Background(), "reader", 10, 0)
	assert.ErrorIs(t, err, apperr.ErrTransientStore)
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-5: DefaultLimit, 0: DefaultLimit, 1: 1, 42: 42, 100: 100, 101: MaxLimit}
	for in, want := range cases {
		assert.Equal(t, want, ClampLimit(in), "limit %d", in)
	}
}

func TestRegisterInvalidatesThroughBus(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()
	b := bus.New("node-a", zap.NewNop())
	f.svc.Register(b)

	require.NoError(t, f.follows.Follow(ctx, "reader", "author"))
	p := f.post(t, "p1", "author", 1)
	f.post(t, "p2", "author", 2)
	require.Equal(t, []string{"p2", "p1"}, f.feed(t, "reader", 10, 0))

	_, err := f.posts.SoftDelete(ctx, p.ID, "author", f.base.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.MutationEvent{Kind: bus.KindPostDeleted, EntityID: p.ID, ActorID: "author"}))

	assert.Equal(t, []string{"p2"}, f.feed(t, "reader", 10, 0))
	assert.Equal(t, []string{"p2"}, f.feed(t, "author", 10, 0))
}

// racingPosts publishes a post after the rebuild has read its snapshot.
type racingPosts struct {
	*mocks.MemPosts
	during func()
}

func (r *racingPosts) RecentByAuthors(ctx context.Context, authorIDs []string, limit int) ([]*models.Post, error) {
	snapshot, err := r.MemPosts.RecentByAuthors(ctx, authorIDs, limit)
	if during := r.during; during != nil {
		r.during = nil
		during()
	}
	return snapshot, err
}

func TestPostPublishedDuringRebuildIsKept(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.follows.Follow(ctx, "reader", "author"))
	f.post(t, "old", "author", 1)

	racing := &racingPosts{MemPosts: f.posts}
	f.svc = NewService(f.cache, f.follows, racing, zap.NewNop())
	racing.during = func() {
		fresh := f.post(t, "fresh", "author", 2)
		require.NoError(t, f.svc.FanOutPost(ctx, fresh))
	}

	assert.Equal(t, []string{"fresh", "old"}, f.feed(t, "reader", 10, 0))
	assert.False(t, f.mr.Exists(buildKey("reader")))
	holders, err := f.mr.SMembers(refsKey("fresh"))
	require.NoError(t, err)
	assert.Contains(t, holders, "reader")
}

func TestStagedPostDeletedBeforeReplaceStaysOut(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()

	require.NoError(t, f.cache.BeginRebuild(ctx, "reader"))
	staged, err := f.cache.Append(ctx, "reader", Entry{PostID: "doomed", CreatedAt: f.base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, staged)
	_, err = f.cache.Append(ctx, "reader", Entry{PostID: "kept", CreatedAt: f.base.Add(3 * time.Minute)})
	require.NoError(t, err)

	cached, err := f.cache.Exists(ctx, "reader")
	require.NoError(t, err)
	assert.False(t, cached)

	_, err = f.cache.Invalidate(ctx, "doomed", true)
	require.NoError(t, err)

	_, err = f.cache.Replace(ctx, "reader", []Entry{{PostID: "old", CreatedAt: f.base}})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept", "old"}, f.feed(t, "reader", 10, 0))
}

func TestReplaceMergesIntoExistingFeed(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()

	_, err := f.cache.Replace(ctx, "reader", []Entry{{PostID: "newer", CreatedAt: f.base.Add(time.Minute)}})
	require.NoError(t, err)
	added, err := f.cache.Replace(ctx, "reader", []Entry{
		{PostID: "newer", CreatedAt: f.base.Add(time.Minute)},
		{PostID: "older", CreatedAt: f.base},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"newer", "older"}, f.feed(t, "reader", 10, 0))
}

func TestInvalidateRejectsStaleHolders(t *testing.T) {
	f := newFeedFixture(t, 100)
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := f.cache.Replace(ctx, "a", []Entry{{PostID: "p1", CreatedAt: f.base}})
	require.NoError(t, err)
	_, err = f.cache.Replace(ctx, "b", []Entry{{PostID: "p1", CreatedAt: f.base}})
	require.NoError(t, err)

	// holders read before "b" materialized
	res, err := invalidateScript.Run(ctx, rdb,
		[]string{refsKey("p1"), tombstoneKey, feedKey("a")},
		"p1", "1", f.base.UnixMilli(), "(0", "a",
	).Int()
	require.NoError(t, err)
	assert.Equal(t, -1, res)
	assert.False(t, f.mr.Exists(tombstoneKey))

	n, err := f.cache.Invalidate(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.feed(t, "a", 10, 0))
	assert.Empty(t, f.feed(t, "b", 10, 0))
}
