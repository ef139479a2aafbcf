package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/calebmoran/longbox-backend/internal/handlers"
	"github.com/calebmoran/longbox-backend/internal/middleware"
)

type RouterConfig struct {
	IdentityMiddleware *middleware.IdentityMiddleware
	SessionHandler     *handlers.SessionHandler
	QueueHandler       *handlers.QueueHandler
	RollHandler        *handlers.RollHandler
	ThreadHandler      *handlers.ThreadHandler
	SnapshotHandler    *handlers.SnapshotHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware("longbox-backend"))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.IdentityMiddleware.ResolveUser())
	// Session
	api.POST("/session", cfg.SessionHandler.GetOrCreate)
	api.GET("/session/die", cfg.SessionHandler.GetDie)
	api.PUT("/session/die", cfg.SessionHandler.SetDie)
	api.POST("/session/end", cfg.SessionHandler.End)
	// Queue
	api.GET("/queue", cfg.QueueHandler.GetRollPool)
	api.GET("/queue/stale", cfg.QueueHandler.GetStale)
	// Roll
	api.POST("/roll", cfg.RollHandler.Roll)
	api.POST("/roll/override", cfg.RollHandler.Override)
	api.POST("/snooze", cfg.RollHandler.Snooze)
	api.POST("/rate", cfg.RollHandler.Rate)
	// Threads
	api.POST("/threads", cfg.ThreadHandler.Create)
	api.GET("/threads", cfg.ThreadHandler.List)
	api.GET("/threads/:id", cfg.ThreadHandler.Get)
	api.PATCH("/threads/:id", cfg.ThreadHandler.Update)
	api.DELETE("/threads/:id", cfg.ThreadHandler.Delete)
	api.POST("/threads/:id/reactivate", cfg.ThreadHandler.Reactivate)
	api.POST("/threads/:id/move", cfg.QueueHandler.Move)
	// Snapshots
	api.GET("/snapshots", cfg.SnapshotHandler.List)
	api.POST("/snapshots/:id/restore", cfg.SnapshotHandler.Restore)

	return router
}
