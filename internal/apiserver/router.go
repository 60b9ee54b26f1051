package apiserver

import (
	"net/http"

	"github.com/amoylab/roomhub/internal/apiserver/handler"
	"github.com/amoylab/roomhub/internal/apiserver/middleware"
	"github.com/amoylab/roomhub/internal/chat/coordinator"
	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/config"
	"github.com/amoylab/roomhub/pkg/metrics"
	"github.com/amoylab/roomhub/pkg/version"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface is built from
type Deps struct {
	Logger      *zap.Logger
	Config      *config.ChatServerConfig
	Store       storage.Store
	Coordinator *coordinator.Coordinator
	Metrics     *metrics.Metrics // nil when metrics are disabled
}

// NewRouter registers the WebSocket endpoint, the REST API and the
// operational endpoints on a fresh gin engine.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.CORS(d.Config.WebSocket.AllowedOrigins))
	if d.Config.Tracing.Enabled {
		r.Use(otelgin.Middleware(d.Config.Tracing.ServiceName))
	}
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET(d.Config.Metrics.Path, gin.WrapH(d.Metrics.Handler()))
	}

	ws := handler.NewWebSocket(d.Logger, d.Coordinator, d.Config.WebSocket)
	chat := handler.NewChat(d.Logger, d.Store, d.Coordinator)

	r.GET("/ws", ws.HandleWebSocket)

	api := r.Group("/api")
	api.GET("/rooms", chat.HandleListRooms)
	api.POST("/rooms", chat.HandleCreateRoom)
	api.DELETE("/rooms/:roomId", chat.HandleDeleteRoom)
	api.GET("/rooms/:roomId/messages", chat.HandleListMessages)
	api.POST("/rooms/:roomId/members", chat.HandleJoinRoom)
	api.DELETE("/rooms/:roomId/members/:userId", chat.HandleLeaveRoom)
	api.GET("/users/:userId/rooms", chat.HandleListUserRooms)
	api.GET("/presence", chat.HandlePresence)
	api.GET("/stats", chat.HandleStats)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get()})
	})
	return r
}
