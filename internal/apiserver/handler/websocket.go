package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amoylab/roomhub/internal/chat/coordinator"
	"github.com/amoylab/roomhub/internal/chat/session"
	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/cnst"
	"github.com/amoylab/roomhub/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound frame types
const (
	FrameIdentify = "identify"
	FrameJoin     = "join"
	FrameLeave    = "leave"
	FrameSend     = "send"
)

// InboundFrame is a client request read from the socket
type InboundFrame struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
}

// WebSocket upgrades client connections and feeds their frames to the coordinator
type WebSocket struct {
	logger   *zap.Logger
	coord    *coordinator.Coordinator
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewWebSocket creates the WebSocket transport handler
func NewWebSocket(logger *zap.Logger, coord *coordinator.Coordinator, cfg config.WebSocketConfig) *WebSocket {
	return &WebSocket{
		logger: logger.Named("websocket"),
		coord:  coord,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(cfg.AllowedOrigins),
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := set["*"]; ok {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket serves GET /ws. An optional userId query parameter
// identifies the connection right after the upgrade.
func (h *WebSocket) HandleWebSocket(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	conn := newWSConnection(uuid.NewString(), ws, h.cfg, h.logger)
	if err := h.coord.Connect(ctx, conn); err != nil {
		h.logger.Warn("connection rejected", zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.cfg.WriteWait))
		_ = ws.Close()
		return
	}
	go conn.writeLoop()

	h.logger.Info("WebSocket client connected",
		zap.String("connection_id", conn.ID()),
		zap.String("remote_addr", c.Request.RemoteAddr))

	defer func() {
		h.coord.Disconnect(ctx, conn.ID())
		<-conn.done
		h.logger.Info("WebSocket client disconnected", zap.String("connection_id", conn.ID()))
	}()

	if userID := c.Query("userId"); userID != "" {
		h.dispatch(ctx, conn, &InboundFrame{Type: FrameIdentify, UserID: userID})
	}
	h.readLoop(ctx, conn)
}

func (h *WebSocket) readLoop(ctx context.Context, conn *wsConnection) {
	ws := conn.ws
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("WebSocket read error", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if !h.reply(ctx, conn, "", fmt.Errorf("%w: malformed frame", cnst.ErrInvalidArgument)) {
				return
			}
			continue
		}
		if !h.dispatch(ctx, conn, &frame) {
			return
		}
	}
}

// dispatch runs one frame and reports whether the connection is still usable
func (h *WebSocket) dispatch(ctx context.Context, conn *wsConnection, frame *InboundFrame) bool {
	var err error
	switch frame.Type {
	case FrameIdentify:
		err = h.coord.Identify(ctx, conn.ID(), frame.UserID)
	case FrameJoin:
		_, err = h.coord.JoinRoom(ctx, conn.ID(), frame.RoomID)
	case FrameLeave:
		err = h.coord.LeaveRoom(ctx, conn.ID(), frame.RoomID)
	case FrameSend:
		_, err = h.coord.SendMessage(ctx, conn.ID(), frame.RoomID, storage.Kind(frame.Kind), frame.Content, frame.FileURL)
	default:
		err = fmt.Errorf("%w: unknown frame type %q", cnst.ErrInvalidArgument, frame.Type)
	}
	if err == nil {
		return true
	}
	return h.reply(ctx, conn, frame.RoomID, err)
}

// reply sends an error event back to the originating connection
func (h *WebSocket) reply(ctx context.Context, conn *wsConnection, roomID string, err error) bool {
	h.logger.Debug("request failed",
		zap.String("connection_id", conn.ID()),
		zap.String("code", cnst.ErrorCode(err)),
		zap.Error(err))

	ev := session.NewErrorEvent(err)
	ev.RoomID = roomID
	if sendErr := conn.Send(ctx, ev); sendErr != nil {
		return false
	}
	return true
}

// wsConnection is a session.QueueConnection drained by a writer goroutine
// onto a gorilla socket.
type wsConnection struct {
	*session.QueueConnection
	ws     *websocket.Conn
	cfg    config.WebSocketConfig
	logger *zap.Logger
	done   chan struct{}
}

func newWSConnection(id string, ws *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *wsConnection {
	return &wsConnection{
		QueueConnection: session.NewQueueConnection(id, cfg.SendQueueSize),
		ws:              ws,
		cfg:             cfg,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// writeLoop owns all data writes on the socket. It exits when the queue is
// closed or a write fails, and closes the socket on the way out.
func (c *wsConnection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.cfg.WriteWait))
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Debug("WebSocket write failed", zap.String("connection_id", c.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}
