package ws

import (
	"sort"

	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/observability"
)

// memberSet and roomSet are copy-on-write; a stored set is never mutated.
type memberSet map[string]struct{}

type roomSet map[Room]struct{}

// RoomRouter keeps room memberships and fans events out to member sessions.
type RoomRouter struct {
	registry    *Registry
	rooms       cmap.ConcurrentMap // Room -> memberSet
	memberships cmap.ConcurrentMap // sessionID -> roomSet
	log         *zap.Logger
}

// NewRoomRouter builds a router bound to registry. Memberships of removed
// sessions are dropped automatically.
func NewRoomRouter(registry *Registry, log *zap.Logger) *RoomRouter {
	r := &RoomRouter{
		registry:    registry,
		rooms:       cmap.New(),
		memberships: cmap.New(),
		log:         log.Named("rooms"),
	}
	registry.OnRemove(func(s Session) { r.dropSession(s.ID) })
	return r
}

// Join adds a live session to a room. Joining twice is a no-op.
func (r *RoomRouter) Join(sessionID string, room Room) error {
	if _, ok := r.registry.Session(sessionID); !ok {
		return apperr.NotFound("session")
	}

	r.rooms.Upsert(string(room), nil, func(exist bool, current interface{}, _ interface{}) interface{} {
		next := memberSet{sessionID: {}}
		if exist {
			for id := range current.(memberSet) {
				next[id] = struct{}{}
			}
		}
		return next
	})
	r.memberships.Upsert(sessionID, nil, func(exist bool, current interface{}, _ interface{}) interface{} {
		next := roomSet{room: {}}
		if exist {
			for rm := range current.(roomSet) {
				next[rm] = struct{}{}
			}
		}
		return next
	})

	// The session may have been removed while we were joining.
	if _, ok := r.registry.Session(sessionID); !ok {
		r.dropSession(sessionID)
		return apperr.NotFound("session")
	}
	return nil
}

// Leave removes a session from a room.
func (r *RoomRouter) Leave(sessionID string, room Room) {
	r.removeMember(room, sessionID)
	r.memberships.Upsert(sessionID, nil, func(exist bool, current interface{}, _ interface{}) interface{} {
		next := roomSet{}
		if exist {
			for rm := range current.(roomSet) {
				if rm != room {
					next[rm] = struct{}{}
				}
			}
		}
		return next
	})
	r.memberships.RemoveCb(sessionID, func(_ string, v interface{}, exists bool) bool {
		return exists && len(v.(roomSet)) == 0
	})
}

// Members lists the session ids currently in room.
func (r *RoomRouter) Members(room Room) []string {
	v, ok := r.rooms.Get(string(room))
	if !ok {
		return []string{}
	}
	set := v.(memberSet)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf lists the rooms a session belongs to.
func (r *RoomRouter) RoomsOf(sessionID string) []Room {
	v, ok := r.memberships.Get(sessionID)
	if !ok {
		return []Room{}
	}
	set := v.(roomSet)
	rooms := make([]Room, 0, len(set))
	for rm := range set {
		rooms = append(rooms, rm)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Broadcast delivers event to every member of room whose channel accepts
// it, except excludeSessionID. It returns the number of sessions the frame
// was queued for.
func (r *RoomRouter) Broadcast(room Room, event Event, payload any, excludeSessionID string) int {
	return r.BroadcastRooms([]Room{room}, event, payload, excludeSessionID)
}

// BroadcastRooms delivers event once to every session in the union of rooms.
func (r *RoomRouter) BroadcastRooms(rooms []Room, event Event, payload any, excludeSessionID string) int {
	if event.Mode() != ModeRoom {
		r.log.Warn("refusing room broadcast of session-scoped event", zap.String("event", string(event)))
		return 0
	}

	targets := make(map[string]struct{})
	for _, room := range rooms {
		v, ok := r.rooms.Get(string(room))
		if !ok {
			continue
		}
		for id := range v.(memberSet) {
			targets[id] = struct{}{}
		}
	}
	delete(targets, excludeSessionID)
	if len(targets) == 0 {
		return 0
	}

	frame, err := encodeFrame(event, payload)
	if err != nil {
		r.log.Error("encode frame", zap.String("event", string(event)), zap.Error(err))
		return 0
	}

	delivered := 0
	for id := range targets {
		sess, ok := r.registry.Session(id)
		if !ok || !event.Accepts(sess.Channel) {
			continue
		}
		if sess.Deliver(frame) {
			delivered++
		} else {
			observability.IncFanoutDrop(string(event))
		}
	}
	observability.AddFanoutDeliveries(string(event), delivered)
	return delivered
}

// SendTo delivers an event to a single session regardless of rooms.
func (r *RoomRouter) SendTo(sessionID string, event Event, payload any) bool {
	sess, ok := r.registry.Session(sessionID)
	if !ok || !event.Accepts(sess.Channel) {
		return false
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		r.log.Error("encode frame", zap.String("event", string(event)), zap.Error(err))
		return false
	}
	if !sess.Deliver(frame) {
		observability.IncFanoutDrop(string(event))
		return false
	}
	return true
}

func (r *RoomRouter) dropSession(sessionID string) {
	v, ok := r.memberships.Pop(sessionID)
	if !ok {
		return
	}
	for room := range v.(roomSet) {
		r.removeMember(room, sessionID)
	}
}

func (r *RoomRouter) removeMember(room Room, sessionID string) {
	key := string(room)
	r.rooms.Upsert(key, nil, func(exist bool, current interface{}, _ interface{}) interface{} {
		next := memberSet{}
		if exist {
			for id := range current.(memberSet) {
				if id != sessionID {
					next[id] = struct{}{}
				}
			}
		}
		return next
	})
	r.rooms.RemoveCb(key, func(_ string, v interface{}, exists bool) bool {
		return exists && len(v.(memberSet)) == 0
	})
}
