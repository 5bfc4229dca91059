package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/api/handlers"
	"github.com/yourusername/offline-cache-go/api/middleware"
	"github.com/yourusername/offline-cache-go/internal/app"
)

// SetupRouter sets up the HTTP router
func SetupRouter(queueMgr *app.QueueManager, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(queueMgr)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		entryHandler := handlers.NewEntryHandler(queueMgr, log)
		entries := v1.Group("/entries")
		{
			entries.POST("", entryHandler.AddEntry)
			entries.GET("", entryHandler.ListEntries)
			entries.GET("/stats", entryHandler.GetStats)
			entries.POST("/pause", entryHandler.PauseAll)
			entries.POST("/resume", entryHandler.ResumeAll)
			entries.GET("/:key", entryHandler.GetEntry)
			entries.POST("/:key/pause", entryHandler.PauseEntry)
			entries.POST("/:key/resume", entryHandler.ResumeEntry)
			entries.POST("/:key/cancel", entryHandler.CancelEntry)
			entries.DELETE("/:key", entryHandler.DeleteEntry)
		}

		// Live queue events
		eventsHandler := handlers.NewEventsWebSocketHandler(queueMgr, log)
		v1.GET("/events", eventsHandler.HandleWebSocket)
	}

	return router
}
