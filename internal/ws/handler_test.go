package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/auth"
)

func errorPayloadOf(t *testing.T, sink *recordingSink) ErrorPayload {
	t.Helper()
	for _, f := range sink.received() {
		if f.Event == EventError {
			var p ErrorPayload
			require.NoError(t, json.Unmarshal(f.Data, &p))
			return p
		}
	}
	t.Fatalf("no error frame received")
	return ErrorPayload{}
}

func TestDispatchJoinPostRoom(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(nil)
	h := NewHandler(hub, auth.NewJWTAuthenticator("secret"), 8, zap.NewNop())
	sink := newSink()
	sess, err := hub.Connect(ctx, "u", ChannelSocial, sink)
	require.NoError(t, err)

	h.Dispatch(ctx, sess, []byte(`{"event":"room:join","data":{"room":"post:p1"}}`))
	assert.Equal(t, []string{sess.ID}, hub.Router().Members(PostRoom("p1")))

	h.Dispatch(ctx, sess, []byte(`{"event":"room:leave","data":{"room":"post:p1"}}`))
	assert.Empty(t, hub.Router().Members(PostRoom("p1")))
	assert.Zero(t, sink.count(EventError))
}

func TestDispatchRejectsForeignUserRoom(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(nil)
	h := NewHandler(hub, auth.NewJWTAuthenticator("secret"), 8, zap.NewNop())
	sink := newSink()
	sess, err := hub.Connect(ctx, "u", ChannelSocial, sink)
	require.NoError(t, err)

	h.Dispatch(ctx, sess, []byte(`{"event":"room:join","data":{"room":"user:someone"}}`))
	p := errorPayloadOf(t, sink)
	assert.Equal(t, "unauthorized", p.Code)
	assert.Equal(t, "room:join", p.RequestEvent)
	assert.Empty(t, hub.Router().Members(UserRoom("someone")))
}

func TestDispatchUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(nil)
	h := NewHandler(hub, auth.NewJWTAuthenticator("secret"), 8, zap.NewNop())
	sink := newSink()
	sess, err := hub.Connect(ctx, "u", ChannelMessaging, sink)
	require.NoError(t, err)

	h.Dispatch(ctx, sess, []byte(`not json`))
	h.Dispatch(ctx, sess, []byte(`{"event":"teleport","data":{}}`))
	assert.Equal(t, 2, sink.count(EventError))
	assert.Equal(t, "validation", errorPayloadOf(t, sink).Code)
}

func TestDispatchRoutesRegisteredCommand(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(nil)
	h := NewHandler(hub, auth.NewJWTAuthenticator("secret"), 8, zap.NewNop())
	sink := newSink()
	sess, err := hub.Connect(ctx, "u", ChannelMessaging, sink)
	require.NoError(t, err)

	var got string
	h.On(Event("message:send"), func(_ context.Context, s Session, data json.RawMessage) error {
		got = s.UserID + ":" + string(data)
		return apperr.Unauthorized("not a participant")
	})

	h.Dispatch(ctx, sess, []byte(`{"event":"message:send","data":{"x":1}}`))
	assert.Equal(t, `u:{"x":1}`, got)
	p := errorPayloadOf(t, sink)
	assert.Equal(t, "unauthorized", p.Code)
	assert.Contains(t, p.Message, "not a participant")
}

func TestHandleWebSocketLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := newTestHub(nil)
	h := NewHandler(hub, auth.NewJWTAuthenticator("secret"), 8, zap.NewNop())

	var hooked []string
	h.OnConnect(ChannelSocial, func(_ context.Context, s Session) error {
		hooked = append(hooked, s.UserID)
		return nil
	})

	router := gin.New()
	router.GET("/ws", h.Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()

	token, err := auth.IssueToken("secret", "u1", time.Minute)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channel=social&token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Registry().IsOnline("u1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": "room:join",
		"data":  map[string]string{"room": "post:p1"},
	}))
	require.Eventually(t, func() bool { return len(hub.Router().Members(PostRoom("p1"))) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, hub.Router().Broadcast(PostRoom("p1"), EventPostLike, PostLikePayload{PostID: "p1", UserID: "u2", Action: "like", LikesCount: 1}, ""))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, EventPostLike, frame.Event)

	var payload PostLikePayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, int64(1), payload.LikesCount)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !hub.Registry().IsOnline("u1") }, 2*time.Second, 10*time.Millisecond)
	h.Wait()
	assert.Equal(t, []string{"u1"}, hooked)
}

func TestHandleRejectsBadRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(newTestHub(nil), auth.NewJWTAuthenticator("secret"), 8, zap.NewNop())
	router := gin.New()
	router.GET("/ws", h.Handle)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ws?channel=carrier-pigeon", nil))
	assert.Equal(t, 400, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ws?channel=social&token=garbage", nil))
	assert.Equal(t, 401, w.Code)
}
