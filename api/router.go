package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/rtu-fetch-go/api/handlers"
	"github.com/yourusername/rtu-fetch-go/api/middleware"
	"github.com/yourusername/rtu-fetch-go/internal/app"
	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/pkg/logger"
)

// RouterOptions carries the optional collaborators of the HTTP API
type RouterOptions struct {
	// Scheduler is reported by /health when set
	Scheduler *app.Scheduler
	// SaveServers persists the server list after PUT /servers/:id
	SaveServers func([]domain.ServerConfig) error
}

// SetupRouter sets up the HTTP router
func SetupRouter(
	orch *app.Orchestrator,
	repo domain.RunRepository,
	logAdapter *logger.LoggerAdapter,
	logsDir string,
	opts RouterOptions,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	log := logAdapter.General()

	router.Use(middleware.LoggerWithAdapter(logAdapter))
	router.Use(middleware.RecoveryWithAdapter(logAdapter))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(orch, opts.Scheduler)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	logReader := logger.NewLogReader(logsDir)

	v1 := router.Group("/api/v1")
	{
		serverHandler := handlers.NewServerHandler(orch, opts.SaveServers, log)
		servers := v1.Group("/servers")
		{
			servers.GET("", serverHandler.ListServers)
			servers.GET("/:id", serverHandler.GetServer)
			servers.PUT("/:id", serverHandler.UpdateServer)
			servers.POST("/:id/start", serverHandler.StartServer)
			servers.POST("/:id/pause", serverHandler.PauseServer)
			servers.POST("/:id/resume", serverHandler.ResumeServer)
			servers.POST("/:id/cancel", serverHandler.CancelServer)
			servers.POST("/:id/test", serverHandler.TestConnection)
			servers.GET("/:id/preview", serverHandler.PreviewRemote)
		}
		v1.POST("/run-now", serverHandler.RunNow)

		runHandler := handlers.NewRunHandler(repo, log)
		runs := v1.Group("/runs")
		{
			runs.GET("", runHandler.ListRuns)
			runs.GET("/stats", runHandler.GetStats)
			runs.GET("/:id", runHandler.GetRun)
		}

		logHandler := handlers.NewLogHandler(logReader)
		logWS := handlers.NewLogWebSocketHandler(logReader, log)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/ws", logWS.HandleWebSocket)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}

		eventWS := handlers.NewEventWebSocketHandler(orch, log)
		v1.GET("/events/ws", eventWS.HandleWebSocket)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
