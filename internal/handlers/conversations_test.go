package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/bus"
	"social-service/internal/delivery"
	"social-service/internal/mocks"
	"social-service/internal/models"
	"social-service/internal/ws"
)

func setupConversationRouter(t *testing.T) *gin.Engine {
	t.Helper()
	registry := ws.NewRegistry()
	coord, err := delivery.NewCoordinator(mocks.NewMemConversations(), mocks.NewMemMessages(),
		ws.NewRoomRouter(registry, zap.NewNop()), registry, bus.New("n", zap.NewNop()), nil, zap.NewNop())
	require.NoError(t, err)
	handler := NewConversationHandler(coord, zap.NewNop())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", c.GetHeader("X-Test-User"))
		c.Next()
	})
	r.POST("/conversations", handler.CreateConversation)
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/:conversation_id", handler.GetConversation)
	r.POST("/conversations/:conversation_id/messages", handler.SendMessage)
	r.POST("/messages/:message_id/delivered", handler.MarkDelivered)
	r.POST("/messages/:message_id/read", handler.MarkRead)
	r.PATCH("/messages/:message_id", handler.EditMessage)
	r.DELETE("/messages/:message_id", handler.DeleteMessage)
	return r
}

func call(r *gin.Engine, user, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestConversationFlow(t *testing.T) {
	r := setupConversationRouter(t)

	rec := call(r, "u1", http.MethodPost, "/conversations", `{"participant_ids":["u2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	assert.Equal(t, models.ConversationDirect, conv.Kind)

	rec = call(r, "u1", http.MethodPost, "/conversations/"+conv.ID+"/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, models.StatusSent, msg.Status)

	rec = call(r, "u2", http.MethodPost, "/messages/"+msg.ID+"/delivered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, models.StatusDelivered, msg.Status)

	rec = call(r, "u2", http.MethodPost, "/messages/"+msg.ID+"/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, models.StatusRead, msg.Status)

	assert.Equal(t, http.StatusForbidden, call(r, "u2", http.MethodPatch, "/messages/"+msg.ID, `{"content":"forged"}`).Code)
	assert.Equal(t, http.StatusOK, call(r, "u1", http.MethodPatch, "/messages/"+msg.ID, `{"content":"hi!"}`).Code)
	assert.Equal(t, http.StatusNoContent, call(r, "u1", http.MethodDelete, "/messages/"+msg.ID, "").Code)

	rec = call(r, "u2", http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversation_ids":["`+conv.ID+`"]}`, rec.Body.String())

	rec = call(r, "u2", http.MethodGet, "/conversations/"+conv.ID+"?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.ConversationView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Len(t, view.Messages, 1)
	assert.Empty(t, view.Messages[0].Content)
}

func TestConversationAccessAndValidation(t *testing.T) {
	r := setupConversationRouter(t)

	assert.Equal(t, http.StatusBadRequest, call(r, "u1", http.MethodPost, "/conversations", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(r, "u1", http.MethodPost, "/conversations", `{"participant_ids":["u1"]}`).Code)

	rec := call(r, "u1", http.MethodPost, "/conversations", `{"participant_ids":["u2","u3"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	assert.Equal(t, models.ConversationGroup, conv.Kind)

	assert.Equal(t, http.StatusForbidden, call(r, "u9", http.MethodGet, "/conversations/"+conv.ID, "").Code)
	assert.Equal(t, http.StatusForbidden, call(r, "u9", http.MethodPost, "/conversations/"+conv.ID+"/messages", `{"content":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(r, "u1", http.MethodPost, "/conversations/"+conv.ID+"/messages", `{"content":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(r, "u1", http.MethodGet, "/conversations/"+conv.ID+"?limit=abc", "").Code)
	assert.Equal(t, http.StatusNotFound, call(r, "u1", http.MethodPost, "/messages/missing/read", "").Code)
}
