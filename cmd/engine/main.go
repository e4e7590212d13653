package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"social-sync/internal/auth"
	"social-sync/internal/config"
	"social-sync/internal/database"
	"social-sync/internal/engine"
	"social-sync/internal/feed"
	"social-sync/internal/handlers"
	"social-sync/internal/profile"
	"social-sync/internal/store"
	"social-sync/internal/utils"
	"social-sync/internal/websocket"
)

// app holds every long-lived component behind the gateway.
type app struct {
	engine  *engine.Engine
	hub     *websocket.Hub
	server  *handlers.Server
	handler http.Handler
}

// newApp wires the core and the gateway over the given backends. cache may
// be nil.
func newApp(cfg *config.Config, docs store.DocumentStore, objects store.ObjectStore, cache profile.Cache, logger *zap.Logger) *app {
	metrics := utils.NewMetricsCollector()
	repo := database.NewRepository(docs)
	resolver := profile.NewResolver(repo, cache, logger)

	// Initialize actor system and the mutation engine
	system := actor.NewActorSystem()
	syncEngine := engine.NewEngine(system, repo, resolver, engine.Options{
		MutationTimeout:  cfg.Feed.MutationTimeout,
		RequestTimeout:   cfg.Server.RequestTimeout,
		DefaultAvatarURL: cfg.Feed.DefaultAvatarURL,
		Logger:           logger,
		Metrics:          metrics,
	})

	loader := feed.NewLoader(repo, resolver, feed.LoaderOptions{
		PageSize:      cfg.Feed.PageSize,
		DefaultAvatar: cfg.Feed.DefaultAvatarURL,
		Logger:        logger,
		Metrics:       metrics,
	})
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	hub := websocket.NewHub(logger)

	server := handlers.NewServer(
		syncEngine,
		loader,
		feed.NewComposer(repo, objects, resolver, cfg.Feed, logger),
		auth.NewService(repo, tokens, cfg.Auth, logger),
		profile.NewService(repo, resolver, logger),
		tokens,
		objects,
		hub,
		cfg,
		logger,
	)

	return &app{
		engine:  syncEngine,
		hub:     hub,
		server:  server,
		handler: server.NewRouter(),
	}
}

// close drops gateway sessions, then stops the engine after the mutations
// already queued to it.
func (a *app) close() error {
	a.server.Close()
	return a.engine.Shutdown()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize MongoDB connection
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	mongodb, err := database.NewMongoDB(connectCtx, cfg.Database, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongodb.Close(closeCtx); err != nil {
			logger.Error("error disconnecting from MongoDB", zap.Error(err))
		}
	}()

	objects, err := database.NewGridFSStore(mongodb, cfg.Database.MediaBucket, cfg.Database.PublicMediaURL)
	if err != nil {
		logger.Fatal("failed to open media bucket", zap.Error(err))
	}

	var cache profile.Cache
	if rc := profile.NewRedisCache(cfg.Cache, logger); rc != nil {
		defer rc.Close()
		cache = rc
	}

	a := newApp(cfg, database.NewMongoStore(mongodb), objects, cache, logger)
	go a.hub.Run(ctx)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := a.close(); err != nil {
		logger.Error("engine shutdown", zap.Error(err))
	}
}
