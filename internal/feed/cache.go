// Package feed keeps per-user timelines of post ids in Redis.
package feed

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"social-service/internal/apperr"
)

const (
	tombstoneKey = "feed:tombstones"
	// sentinel marks a materialized feed, so an empty feed is still a hit.
	sentinel      = "~"
	sentinelScore = float64(1 << 53)
	// buildTTL bounds how long a crashed rebuild leaves its staging set.
	buildTTL = time.Minute
	// invalidateAttempts bounds retries when the holders of a post change
	// between reading them and applying the invalidation.
	invalidateAttempts = 3
)

func feedKey(ownerID string) string { return "feed:" + ownerID }

func refsKey(postID string) string { return "feedrefs:" + postID }

func buildKey(ownerID string) string { return "feedbuild:" + ownerID }

// Entry is one post in a feed, scored by creation time.
type Entry struct {
	PostID    string
	CreatedAt time.Time
}

// KEYS[1]=feed KEYS[2]=refs KEYS[3]=tombstones KEYS[4]=staging
// ARGV[1]=postId ARGV[2]=score ARGV[3]=max ARGV[4]=owner ARGV[5]=ttlMs
// Returns 1 appended, 2 staged for a running rebuild, 0 feed not
// materialized, -1 tombstoned.
var appendScript = redis.NewScript(`
  local target = KEYS[1]
  local res = 1
  if redis.call('EXISTS', KEYS[1]) == 0 then
    if redis.call('EXISTS', KEYS[4]) == 0 then
      return 0
    end
    target = KEYS[4]
    res = 2
  end
  if redis.call('ZSCORE', KEYS[3], ARGV[1]) then
    return -1
  end
  redis.call('ZADD', target, ARGV[2], ARGV[1])
  redis.call('SADD', KEYS[2], ARGV[4])
  redis.call('PEXPIRE', KEYS[2], ARGV[5])
  local keep = tonumber(ARGV[3]) + 1
  local n = redis.call('ZCARD', target)
  if n > keep then
    redis.call('ZREMRANGEBYRANK', target, 0, n - keep - 1)
  end
  return res
`)

// KEYS[1]=feed KEYS[2]=tombstones KEYS[3]=staging KEYS[3+i]=refs of the
// i-th entry
// ARGV[1]=owner ARGV[2]=ttlMs ARGV[3]=sentinelScore ARGV[4]=max
// ARGV[4+2i-1], ARGV[4+2i] = score, postId of the i-th entry
// Entries merge into the feed; posts staged by appends during the rebuild
// are folded in and the staging set is dropped.
var replaceScript = redis.NewScript(`
  redis.call('ZADD', KEYS[1], ARGV[3], '` + sentinel + `')
  local added = 0
  local i = 1
  while 4 + 2 * i <= #ARGV do
    local score = ARGV[4 + 2 * i - 1]
    local id = ARGV[4 + 2 * i]
    if not redis.call('ZSCORE', KEYS[2], id) then
      added = added + redis.call('ZADD', KEYS[1], score, id)
      redis.call('SADD', KEYS[3 + i], ARGV[1])
      redis.call('PEXPIRE', KEYS[3 + i], ARGV[2])
    end
    i = i + 1
  end
  local staged = redis.call('ZRANGE', KEYS[3], 0, -1, 'WITHSCORES')
  for j = 1, #staged, 2 do
    local id = staged[j]
    if id ~= '` + sentinel + `' and not redis.call('ZSCORE', KEYS[2], id) then
      added = added + redis.call('ZADD', KEYS[1], staged[j + 1], id)
    end
  end
  redis.call('DEL', KEYS[3])
  local keep = tonumber(ARGV[4]) + 1
  local n = redis.call('ZCARD', KEYS[1])
  if n > keep then
    redis.call('ZREMRANGEBYRANK', KEYS[1], 0, n - keep - 1)
  end
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return added
`)

// KEYS[1]=refs KEYS[2]=tombstones KEYS[2+i]=feed of the i-th holder
// ARGV[1]=postId ARGV[2]=deleted ARGV[3]=nowMs ARGV[4]=prune cutoff
// ARGV[4+i]=i-th holder
// Deleted posts are removed from every holder; edited posts drop the
// holders' feeds so they are rebuilt from the store. Returns -1 without
// writing when the holders no longer match the refs set.
var invalidateScript = redis.NewScript(`
  local holders = #KEYS - 2
  if redis.call('SCARD', KEYS[1]) ~= holders then
    return -1
  end
  for i = 1, holders do
    if redis.call('SISMEMBER', KEYS[1], ARGV[4 + i]) == 0 then
      return -1
    end
  end
  if ARGV[2] == '1' then
    redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
    redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[4])
  end
  local n = 0
  for i = 1, holders do
    if ARGV[2] == '1' then
      n = n + redis.call('ZREM', KEYS[2 + i], ARGV[1])
    else
      n = n + redis.call('DEL', KEYS[2 + i])
    end
  end
  redis.call('DEL', KEYS[1])
  return n
`)

// KEYS[1]=feed KEYS[2]=tombstones ARGV[1]=start ARGV[2]=stop
// Returns the raw number of members read followed by the live post ids.
var pageScript = redis.NewScript(`
  local ids = redis.call('ZREVRANGE', KEYS[1], ARGV[1], ARGV[2])
  local out = {#ids}
  for _, id in ipairs(ids) do
    if id ~= '` + sentinel + `' and not redis.call('ZSCORE', KEYS[2], id) then
      table.insert(out, id)
    end
  end
  return out
`)

// Cache is the Redis-backed feed store. All multi-key updates run as Lua
// scripts so appends, rebuilds and invalidations never interleave. Every key a
// script touches is passed in KEYS, but the keys of one update span hash
// slots, so Cache needs a single Redis node rather than a cluster.
type Cache struct {
	rdb        redis.Cmdable
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// NewCache constructs Cache.
func NewCache(rdb redis.Cmdable, maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{rdb: rdb, maxEntries: maxEntries, ttl: ttl, now: time.Now}
}

// Exists reports whether ownerID has a materialized feed.
func (c *Cache) Exists(ctx context.Context, ownerID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, feedKey(ownerID)).Result()
	if err != nil {
		return false, apperr.Transient(err, "feed exists")
	}
	return n > 0, nil
}

// Append adds a post to an already materialized feed, or to the staging set
// of a running rebuild, and reports whether it was added. Feeds that are
// neither cached nor being rebuilt and tombstoned posts are skipped.
func (c *Cache) Append(ctx context.Context, ownerID string, entry Entry) (bool, error) {
	res, err := appendScript.Run(ctx, c.rdb,
		[]string{feedKey(ownerID), refsKey(entry.PostID), tombstoneKey, buildKey(ownerID)},
		entry.PostID, score(entry.CreatedAt), c.maxEntries, ownerID, c.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, apperr.Transient(err, "feed append")
	}
	return res > 0, nil
}

// BeginRebuild opens a staging set for ownerID. Posts appended between
// BeginRebuild and Replace land there and are merged by Replace, so a post
// written while the store is being read is not lost.
func (c *Cache) BeginRebuild(ctx context.Context, ownerID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, buildKey(ownerID), redis.Z{Score: sentinelScore, Member: sentinel})
		pipe.PExpire(ctx, buildKey(ownerID), buildTTL)
		return nil
	})
	if err != nil {
		return apperr.Transient(err, "feed begin rebuild")
	}
	return nil
}

// Replace materializes ownerID's feed from entries plus anything staged since
// BeginRebuild, skipping tombstoned posts, and returns how many entries were
// added.
func (c *Cache) Replace(ctx context.Context, ownerID string, entries []Entry) (int, error) {
	keys := make([]string, 0, len(entries)+3)
	keys = append(keys, feedKey(ownerID), tombstoneKey, buildKey(ownerID))
	args := make([]interface{}, 0, 2*len(entries)+4)
	args = append(args, ownerID, c.ttl.Milliseconds(), sentinelScore, c.maxEntries)
	for _, e := range entries {
		keys = append(keys, refsKey(e.PostID))
		args = append(args, score(e.CreatedAt), e.PostID)
	}

	added, err := replaceScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return 0, apperr.Transient(err, "feed replace")
	}
	return added, nil
}

// Invalidate removes postID from every feed holding it. Deletions also leave
// a tombstone so a rebuild racing with the delete cannot resurrect the post.
func (c *Cache) Invalidate(ctx context.Context, postID string, deleted bool) (int, error) {
	now := c.now()
	flag := "0"
	if deleted {
		flag = "1"
	}
	cutoff := "(" + strconv.FormatInt(now.Add(-c.ttl).UnixMilli(), 10)

	for attempt := 0; attempt < invalidateAttempts; attempt++ {
		holders, err := c.rdb.SMembers(ctx, refsKey(postID)).Result()
		if err != nil {
			return 0, apperr.Transient(err, "feed invalidate")
		}
		keys := make([]string, 0, len(holders)+2)
		keys = append(keys, refsKey(postID), tombstoneKey)
		args := make([]interface{}, 0, len(holders)+4)
		args = append(args, postID, flag, now.UnixMilli(), cutoff)
		for _, owner := range holders {
			keys = append(keys, feedKey(owner))
			args = append(args, owner)
		}

		n, err := invalidateScript.Run(ctx, c.rdb, keys, args...).Int()
		if err != nil {
			return 0, apperr.Transient(err, "feed invalidate")
		}
		if n >= 0 {
			return n, nil
		}
	}
	return 0, apperr.Transient(errors.New("feed holders kept changing"), "feed invalidate")
}

// Page reads members [start, stop] of the feed by descending score. raw is
// the number of members read before tombstone filtering.
func (c *Cache) Page(ctx context.Context, ownerID string, start, stop int64) (ids []string, raw int, err error) {
	res, err := pageScript.Run(ctx, c.rdb, []string{feedKey(ownerID), tombstoneKey}, start, stop).Slice()
	if err != nil {
		return nil, 0, apperr.Transient(err, "feed page")
	}
	if len(res) == 0 {
		return []string{}, 0, nil
	}
	count, _ := res[0].(int64)
	ids = make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, int(count), nil
}

// Tombstoned reports whether postID was deleted recently.
func (c *Cache) Tombstoned(ctx context.Context, postID string) (bool, error) {
	_, err := c.rdb.ZScore(ctx, tombstoneKey, postID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient(err, "feed tombstone")
	}
	return true, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
