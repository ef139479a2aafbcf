package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/cache"
	"github.com/calebmoran/longbox-backend/internal/config"
	"github.com/calebmoran/longbox-backend/internal/db"
	"github.com/calebmoran/longbox-backend/internal/handlers"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/middleware"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/server"
	"github.com/calebmoran/longbox-backend/internal/services"
	"github.com/calebmoran/longbox-backend/internal/telemetry"
	"github.com/calebmoran/longbox-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	cfg := config.Load(log)
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	defaultUserRaw := utils.GetEnv("DEFAULT_USER_ID", "", log)
	tracingEnabled := utils.GetEnv("TRACING_ENABLED", "false", log) == "true"

	defaultUserID := uuid.Nil
	if defaultUserRaw != "" {
		defaultUserID, err = uuid.Parse(defaultUserRaw)
		if err != nil {
			log.Error("DEFAULT_USER_ID is not a valid uuid", "value", defaultUserRaw)
			os.Exit(1)
		}
	}

	// Tracing
	shutdownTracing, err := telemetry.Init(context.Background(), log, tracingEnabled, "longbox-backend")
	if err != nil {
		log.Warn("Tracing init failed", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	threadRepo := repos.NewThreadRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	eventRepo := repos.NewEventRepo(thePG, log)
	snapshotRepo := repos.NewSnapshotRepo(thePG, log)

	// Write bus + read cache
	log.Info("Setting up write bus and read cache from main...")
	writeBus := bus.New(log)
	readCache, err := cache.NewReadCache(log)
	if err != nil {
		log.Warn("Redis init failed, read cache disabled", "error", err)
	}
	readCache.BindBus(writeBus)

	// Services
	log.Info("Setting up Services from main...")
	queueService := services.NewQueueService(thePG, log, cfg, threadRepo, eventRepo, sessionRepo, writeBus)
	snapshotService := services.NewSnapshotService(thePG, log, threadRepo, sessionRepo, eventRepo, snapshotRepo, queueService, writeBus)
	sessionService := services.NewSessionService(thePG, log, cfg, userRepo, sessionRepo, eventRepo, snapshotService, writeBus)
	selectorService := services.NewSelectorService(thePG, log, sessionService, queueService, threadRepo, sessionRepo, eventRepo, writeBus, nil)
	ratingService := services.NewRatingService(thePG, log, cfg, sessionService, queueService, snapshotService, threadRepo, sessionRepo, eventRepo, writeBus)
	threadService := services.NewThreadService(thePG, log, threadRepo, eventRepo, queueService, writeBus)

	// Handlers
	log.Info("Setting up handlers from main...")
	sessionHandler := handlers.NewSessionHandler(sessionService, readCache)
	queueHandler := handlers.NewQueueHandler(queueService, readCache)
	rollHandler := handlers.NewRollHandler(sessionService, selectorService, ratingService)
	threadHandler := handlers.NewThreadHandler(threadService)
	snapshotHandler := handlers.NewSnapshotHandler(sessionService, snapshotService)

	// Middleware
	log.Info("Setting up middleware from main...")
	identityMiddleware := middleware.NewIdentityMiddleware(log, jwtSecretKey, defaultUserID)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		IdentityMiddleware: identityMiddleware,
		SessionHandler:     sessionHandler,
		QueueHandler:       queueHandler,
		RollHandler:        rollHandler,
		ThreadHandler:      threadHandler,
		SnapshotHandler:    snapshotHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
		if err := readCache.Close(); err != nil {
			log.Warn("Redis close failed", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
