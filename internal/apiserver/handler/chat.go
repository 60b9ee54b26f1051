package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/amoylab/roomhub/internal/chat/coordinator"
	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/cnst"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateRoomRequest is the body of POST /api/rooms
type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
	UserID    string `json:"userId"`
}

// DeleteRoomRequest is the body of DELETE /api/rooms/:roomId
type DeleteRoomRequest struct {
	UserID string `json:"userId"`
}

// JoinRoomRequest is the body of POST /api/rooms/:roomId/members
type JoinRoomRequest struct {
	UserID string `json:"userId"`
}

// Chat serves the REST side of rooms, history and presence
type Chat struct {
	logger *zap.Logger
	store  storage.Store
	coord  *coordinator.Coordinator
}

func NewChat(logger *zap.Logger, store storage.Store, coord *coordinator.Coordinator) *Chat {
	return &Chat{
		logger: logger.Named("handler.chat"),
		store:  store,
		coord:  coord,
	}
}

func (h *Chat) HandleListRooms(c *gin.Context) {
	rooms, err := h.store.ListPublicRooms(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list rooms", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Chat) HandleCreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.UserID == "" {
		badRequest(c, "name and userId are required")
		return
	}

	room := storage.NewRoom(req.Name, req.UserID, req.IsPrivate)
	if err := h.store.CreateRoom(c.Request.Context(), room); err != nil {
		h.logger.Error("failed to create room", zap.String("name", req.Name), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// HandleDeleteRoom lets the owner delete a room and evicts its live subscribers
func (h *Chat) HandleDeleteRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	var req DeleteRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		badRequest(c, "userId is required")
		return
	}

	ctx := c.Request.Context()
	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if room.OwnerID != req.UserID {
		respondError(c, fmt.Errorf("%w: only the owner can delete this room", cnst.ErrPermissionDenied))
		return
	}
	if err := h.store.DeleteRoom(ctx, roomID); err != nil {
		respondError(c, err)
		return
	}

	evicted := h.coord.CloseRoom(ctx, roomID)
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "evicted": evicted})
}

// HandleJoinRoom adds a user to the room's members and returns the room
func (h *Chat) HandleJoinRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		badRequest(c, "userId is required")
		return
	}

	ctx := c.Request.Context()
	if err := h.store.AddMember(ctx, roomID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// HandleLeaveRoom drops a user from the room's members. Live subscriptions
// are left alone.
func (h *Chat) HandleLeaveRoom(c *gin.Context) {
	roomID, userID := c.Param("roomId"), c.Param("userId")
	if err := h.store.RemoveMember(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "userId": userID})
}

// HandleListUserRooms lists every room the user belongs to, private ones included
func (h *Chat) HandleListUserRooms(c *gin.Context) {
	userID := c.Param("userId")
	rooms, err := h.store.ListUserRooms(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list user rooms", zap.String("user_id", userID), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// HandleListMessages returns the durable history of a room, oldest first
func (h *Chat) HandleListMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	ctx := c.Request.Context()

	exists, err := h.store.RoomExists(ctx, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, cnst.ErrRoomNotFound)
		return
	}

	msgs, err := h.store.ListMessages(ctx, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Chat) HandlePresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.coord.Presence()})
}

func (h *Chat) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Stats())
}
