package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	capacity int
}

func newSink() *recordingSink { return &recordingSink{capacity: 1024} }

func (s *recordingSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.frames) >= s.capacity {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (s *recordingSink) count(event Event) int {
	n := 0
	for _, f := range s.received() {
		if f.Event == event {
			n++
		}
	}
	return n
}

type staticFollowers map[string][]string

func (f staticFollowers) FollowerIDs(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

func newTestHub(followers FollowerLister) *Hub {
	registry := NewRegistry()
	router := NewRoomRouter(registry, zap.NewNop())
	return NewHub(registry, router, followers, zap.NewNop())
}
