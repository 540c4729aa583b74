// Package main runs the chat HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-chat/backend/config"
	"github.com/aura-chat/backend/internal/archive"
	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/internal/history"
	"github.com/aura-chat/backend/internal/middleware"
	"github.com/aura-chat/backend/internal/realtime"
	"github.com/aura-chat/backend/pkg/database"
	"github.com/aura-chat/backend/pkg/queue"
	"github.com/aura-chat/backend/pkg/redis"
	"github.com/aura-chat/backend/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	ctx := context.Background()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	store, closeStore, err := openStore(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("history store", zap.Error(err))
	}
	defer closeStore()

	hub := realtime.NewHub(store, realtime.Options{
		SendBuffer:   cfg.Chat.SendBuffer,
		JoinRetries:  cfg.Chat.JoinRetries,
		RetryBackoff: cfg.Chat.RetryBackoff,
		StoreTimeout: cfg.Chat.StoreTimeout,
	}, logger)
	hub.SetPresenceHandler(func(e event.Event, joined int) {
		logger.Info("presence", zap.String("event", string(e.Kind)), zap.String("participant", e.Participant), zap.Int("joined", joined))
	})

	var jobs archive.Enqueuer
	if rdb != nil {
		jobs = queue.NewQueue(rdb.Client, "", logger)
	} else {
		logger.Warn("archiving disabled: no redis configured")
	}

	if cfg.Environment == config.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger, "/health"))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins, history.HeaderLength))

	historyHandler := history.NewHandler(hub, logger)
	archiveHandler := archive.NewHandler(jobs, logger)
	roomHandler := realtime.NewHandler(hub)

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/history", historyHandler.List)
	router.POST("/history/archive", archiveHandler.Enqueue)
	router.GET("/participants", roomHandler.Participants)
	router.GET("/ws", realtime.ServeWs(hub, realtime.SocketOptions{
		PingInterval:   cfg.Chat.PingInterval,
		PongWait:       cfg.Chat.PongWait,
		WriteWait:      cfg.Chat.WriteWait,
		MaxFrameBytes:  cfg.Chat.MaxFrameBytes,
		AllowedOrigins: cfg.Server.Origins(),
	}, logger))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", string(cfg.Environment)),
			zap.String("history", cfg.History.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// Hijacked WebSocket connections are not tracked by srv.Shutdown.
	hub.Shutdown()
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (history.Store, func(), error) {
	switch cfg.History.Backend {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return history.NewPostgresStore(pool), pool.Close, nil
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("redis history backend needs redis.addr")
		}
		return history.NewRedisStore(rdb.Client, cfg.History.RedisKey, logger), func() {}, nil
	default:
		logger.Warn("history kept in memory; it is lost on restart")
		return history.NewMemoryStore(), func() {}, nil
	}
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
