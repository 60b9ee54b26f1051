package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amoylab/roomhub/internal/chat/coordinator"
	"github.com/amoylab/roomhub/internal/chat/session"
	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/cnst"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingStore fails every read so handlers surface internal errors
type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) ListPublicRooms(context.Context) ([]*storage.Room, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) RoomExists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) ListUserRooms(context.Context, string) ([]*storage.Room, error) {
	return nil, errors.New("connection refused")
}

type chatFixture struct {
	router *gin.Engine
	store  *storage.MemoryStore
	coord  *coordinator.Coordinator
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewMemoryStore(zap.NewNop())
	coord := coordinator.New(zap.NewNop(), store)
	return &chatFixture{router: chatRouter(store, coord), store: store, coord: coord}
}

func chatRouter(store storage.Store, coord *coordinator.Coordinator) *gin.Engine {
	h := NewChat(zap.NewNop(), store, coord)
	r := gin.New()
	r.GET("/api/rooms", h.HandleListRooms)
	r.POST("/api/rooms", h.HandleCreateRoom)
	r.DELETE("/api/rooms/:roomId", h.HandleDeleteRoom)
	r.GET("/api/rooms/:roomId/messages", h.HandleListMessages)
	r.POST("/api/rooms/:roomId/members", h.HandleJoinRoom)
	r.DELETE("/api/rooms/:roomId/members/:userId", h.HandleLeaveRoom)
	r.GET("/api/users/:userId/rooms", h.HandleListUserRooms)
	r.GET("/api/presence", h.HandlePresence)
	r.GET("/api/stats", h.HandleStats)
	return r
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (f *chatFixture) createRoom(t *testing.T, name, owner string, private bool) *storage.Room {
	t.Helper()
	w := doJSON(f.router, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: name, UserID: owner, IsPrivate: private})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var room storage.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	return &room
}

func TestCreateAndListRooms(t *testing.T) {
	f := newChatFixture(t)
	pub := f.createRoom(t, "general", "u1", false)
	f.createRoom(t, "secret", "u1", true)
	assert.Equal(t, "u1", pub.OwnerID)
	assert.NotEmpty(t, pub.ID)

	w := doJSON(f.router, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rooms []storage.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, pub.ID, rooms[0].ID)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newChatFixture(t)

	w := doJSON(f.router, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "  ", UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(f.router, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "general"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, cnst.CodeInvalidArgument, resp.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString("{"))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMessages(t *testing.T) {
	f := newChatFixture(t)
	room := f.createRoom(t, "general", "u1", false)
	ctx := context.Background()
	first := storage.NewMessage(room.ID, "u1", storage.KindText, "one", "")
	second := storage.NewMessage(room.ID, "u2", storage.KindFile, "", "/uploads/report.pdf")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	_, err := f.store.CreateMessage(ctx, second)
	require.NoError(t, err)
	_, err = f.store.CreateMessage(ctx, first)
	require.NoError(t, err)

	w := doJSON(f.router, http.MethodGet, "/api/rooms/"+room.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []storage.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "/uploads/report.pdf", msgs[1].FileURL)

	w = doJSON(f.router, http.MethodGet, "/api/rooms/missing/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRoom(t *testing.T) {
	f := newChatFixture(t)
	room := f.createRoom(t, "general", "owner", false)
	ctx := context.Background()

	member := session.NewQueueConnection("c1", 16)
	require.NoError(t, f.coord.Connect(ctx, member))
	require.NoError(t, f.coord.Identify(ctx, "c1", "u1"))
	_, err := f.coord.JoinRoom(ctx, "c1", room.ID)
	require.NoError(t, err)

	w := doJSON(f.router, http.MethodDelete, "/api/rooms/"+room.ID, DeleteRoomRequest{UserID: "u1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(f.router, http.MethodDelete, "/api/rooms/"+room.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(f.router, http.MethodDelete, "/api/rooms/"+room.ID, DeleteRoomRequest{UserID: "owner"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"roomId":"`+room.ID+`","evicted":1}`, w.Body.String())

	var closed *session.Event
	for ev := range drainQueue(member) {
		if ev.Type == session.EventRoomClosed {
			closed = ev
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, room.ID, closed.RoomID)
	assert.Equal(t, coordinator.StateIdentified, f.coord.State("c1"))

	w = doJSON(f.router, http.MethodDelete, "/api/rooms/"+room.ID, DeleteRoomRequest{UserID: "owner"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func drainQueue(c *session.QueueConnection) <-chan *session.Event {
	out := make(chan *session.Event, cap(c.Events()))
	for {
		select {
		case ev := <-c.Events():
			out <- ev
		default:
			close(out)
			return out
		}
	}
}

func TestPresenceAndStats(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, f.coord.Connect(ctx, session.NewQueueConnection(id, 16)))
	}
	require.NoError(t, f.coord.Identify(ctx, "c1", "bob"))
	require.NoError(t, f.coord.Identify(ctx, "c2", "alice"))

	w := doJSON(f.router, http.MethodGet, "/api/presence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"users":["alice","bob"]}`, w.Body.String())

	w = doJSON(f.router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"connections":2,"onlineUsers":2,"rooms":{}}`, w.Body.String())
}

func TestStoreFailuresAreInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := failingStore{storage.NewMemoryStore(zap.NewNop())}
	r := chatRouter(store, coordinator.New(zap.NewNop(), store))

	for _, path := range []string{"/api/rooms", "/api/rooms/r1/messages", "/api/users/u1/rooms"} {
		w := doJSON(r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.JSONEq(t, `{"code":"internal","message":"internal error"}`, w.Body.String())
	}
}

func TestRoomMembership(t *testing.T) {
	f := newChatFixture(t)
	priv := f.createRoom(t, "club", "alice", true)
	assert.Equal(t, []string{"alice"}, priv.Members)

	// a private room is reachable through its members only
	w := doJSON(f.router, http.MethodGet, "/api/users/alice/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rooms []storage.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, priv.ID, rooms[0].ID)

	w = doJSON(f.router, http.MethodPost, "/api/rooms/"+priv.ID+"/members", JoinRoomRequest{UserID: "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joined storage.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joined))
	assert.Equal(t, []string{"alice", "bob"}, joined.Members)

	w = doJSON(f.router, http.MethodGet, "/api/users/bob/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)

	w = doJSON(f.router, http.MethodDelete, "/api/rooms/"+priv.ID+"/members/bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(f.router, http.MethodGet, "/api/users/bob/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = doJSON(f.router, http.MethodPost, "/api/rooms/"+priv.ID+"/members", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(f.router, http.MethodPost, "/api/rooms/missing/members", JoinRoomRequest{UserID: "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(f.router, http.MethodDelete, "/api/rooms/missing/members/bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
