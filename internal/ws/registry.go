package ws

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"

	"social-service/internal/apperr"
	"social-service/internal/observability"
)

// Sink receives encoded frames for one session. Send must not block.
type Sink interface {
	Send(frame []byte) bool
	Close()
}

// Session is one live connection of a user on one channel.
type Session struct {
	ID          string
	UserID      string
	Channel     Channel
	ConnectedAt time.Time

	sink Sink
}

// Deliver queues a frame on the session outbox. It reports false when the
// frame was dropped.
func (s Session) Deliver(frame []byte) bool {
	if s.sink == nil {
		return false
	}
	return s.sink.Send(frame)
}

// Presence is the derived online state of a user.
type Presence struct {
	UserID         string    `json:"userId"`
	ActiveSessions int       `json:"activeSessions"`
	LastSeen       time.Time `json:"lastSeen"`
	Online         bool      `json:"online"`
}

// userEntry is replaced, never mutated, so readers can range over
// sessions without holding the shard lock.
type userEntry struct {
	sessions map[string]struct{}
	lastSeen time.Time
}

// Registry tracks live sessions per user. Updates are per-key atomic on
// sharded maps; no global lock is taken.
type Registry struct {
	sessions cmap.ConcurrentMap // sessionID -> Session
	users    cmap.ConcurrentMap // userID -> *userEntry
	online   atomic.Int64

	mu       sync.RWMutex
	onRemove []func(Session)

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: cmap.New(),
		users:    cmap.New(),
		now:      time.Now,
	}
}

// OnRemove subscribes fn to session removals. fn runs after the session is
// gone from the registry and must not block.
func (r *Registry) OnRemove(fn func(Session)) {
	r.mu.Lock()
	r.onRemove = append(r.onRemove, fn)
	r.mu.Unlock()
}

// Register adds a session and reports whether the user just came online.
func (r *Registry) Register(userID, sessionID string, channel Channel, sink Sink) (bool, error) {
	if userID == "" || sessionID == "" {
		return false, apperr.Validation("user id and session id are required")
	}

	now := r.now()
	sess := Session{ID: sessionID, UserID: userID, Channel: channel, ConnectedAt: now, sink: sink}
	if !r.sessions.SetIfAbsent(sessionID, sess) {
		return false, apperr.ErrConflict
	}

	wentOnline := false
	r.users.Upsert(userID, nil, func(exist bool, current interface{}, _ interface{}) interface{} {
		next := &userEntry{sessions: map[string]struct{}{sessionID: {}}, lastSeen: now}
		if exist {
			prev := current.(*userEntry)
			for id := range prev.sessions {
				next.sessions[id] = struct{}{}
			}
			wentOnline = len(prev.sessions) == 0
		} else {
			wentOnline = true
		}
		return next
	})

	if wentOnline {
		observability.SetOnlineUsers(int(r.online.Add(1)))
	}
	observability.IncWSActive(string(channel))
	return wentOnline, nil
}

// Remove drops a session and reports whether its user just went offline.
// Unknown session ids are ignored.
func (r *Registry) Remove(sessionID string) bool {
	_, wentOffline := r.remove(sessionID)
	return wentOffline
}

func (r *Registry) remove(sessionID string) (removed bool, wentOffline bool) {
	v, ok := r.sessions.Pop(sessionID)
	if !ok {
		return false, false
	}
	sess := v.(Session)

	now := r.now()
	r.users.Upsert(sess.UserID, nil, func(exist bool, current interface{}, _ interface{}) interface{} {
		next := &userEntry{sessions: map[string]struct{}{}, lastSeen: now}
		if !exist {
			return next
		}
		prev := current.(*userEntry)
		for id := range prev.sessions {
			if id != sessionID {
				next.sessions[id] = struct{}{}
			}
		}
		wentOffline = len(prev.sessions) > 0 && len(next.sessions) == 0
		return next
	})

	if wentOffline {
		observability.SetOnlineUsers(int(r.online.Add(-1)))
	}
	observability.DecWSActive(string(sess.Channel))

	if sess.sink != nil {
		sess.sink.Close()
	}

	r.mu.RLock()
	listeners := r.onRemove
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(sess)
	}
	return true, wentOffline
}

// Session looks up a live session.
func (r *Registry) Session(sessionID string) (Session, bool) {
	v, ok := r.sessions.Get(sessionID)
	if !ok {
		return Session{}, false
	}
	return v.(Session), true
}

// SessionsFor lists the live session ids of a user in a stable order.
func (r *Registry) SessionsFor(userID string) []string {
	entry, ok := r.entry(userID)
	if !ok {
		return []string{}
	}
	ids := make([]string, 0, len(entry.sessions))
	for id := range entry.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether the user has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	entry, ok := r.entry(userID)
	return ok && len(entry.sessions) > 0
}

// Presence reports the derived presence of a user. A user never seen has a
// zero LastSeen.
func (r *Registry) Presence(userID string) Presence {
	p := Presence{UserID: userID}
	entry, ok := r.entry(userID)
	if !ok {
		return p
	}
	p.ActiveSessions = len(entry.sessions)
	p.Online = p.ActiveSessions > 0
	p.LastSeen = entry.lastSeen
	return p
}

// SessionCount is the number of live sessions across all users.
func (r *Registry) SessionCount() int {
	return r.sessions.Count()
}

// OnlineCount is the number of users with at least one live session.
func (r *Registry) OnlineCount() int {
	return int(r.online.Load())
}

// Teardown removes every session, closing sinks and notifying listeners.
// It returns the number of sessions drained.
func (r *Registry) Teardown() int {
	drained := 0
	for _, id := range r.sessions.Keys() {
		if removed, _ := r.remove(id); removed {
			drained++
		}
	}
	return drained
}

func (r *Registry) entry(userID string) (*userEntry, bool) {
	v, ok := r.users.Get(userID)
	if !ok {
		return nil, false
	}
	return v.(*userEntry), true
}
