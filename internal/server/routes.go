package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xpanvictor/mimi/internal/auth"
	"github.com/xpanvictor/mimi/internal/config"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"github.com/xpanvictor/mimi/internal/handlers"
	"github.com/xpanvictor/mimi/internal/handlers/websocket"
	"github.com/xpanvictor/mimi/pkg/Logger"
	"github.com/xpanvictor/mimi/pkg/offline"
)

type Dependencies struct {
	Config     *config.Settings
	Logger     *Logger.Logger
	Tokens     auth.Validator
	Utterances utterance.UtteranceService
	Offline    *offline.Controller
	Gatherer   prometheus.Gatherer
}

// InitializeRoutes mounts the API, the speech socket and metrics. Every
// other path is the app shell, served through the offline controller. The
// returned handler owns live sockets and must be closed on shutdown.
func InitializeRoutes(r *gin.Engine, dep Dependencies) *websocket.WebSocketHandler {
	r.Use(
		handlers.ErrorHandlerMiddleware(dep.Logger),
		handlers.RequestLoggerMiddleware(dep.Logger),
		handlers.CORSMiddleware(dep.Config.Server.Origin),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"generation":  dep.Offline.Generation(),
			"controlling": dep.Offline.Controlling(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(dep.Gatherer, promhttp.HandlerOpts{})))

	ws := websocket.NewWebSocketHandler(dep.Logger, dep.Config, dep.Utterances, dep.Tokens)
	ws.RegisterRoutes(r)

	api := r.Group("/api/v1", handlers.AuthMiddleware(dep.Tokens, dep.Logger))
	{
		utterances := handlers.NewUtteranceHandler(dep.Utterances, dep.Logger)
		api.GET("/sessions/:id/utterances", utterances.ListSessionUtterances)
	}

	r.NoRoute(gin.WrapH(dep.Offline.Handler()))

	return ws
}
