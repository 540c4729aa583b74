// Package main runs the background archive worker: it exports the chat
// history to S3 as JSON Lines whenever POST /history/archive queues a job.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-chat/backend/config"
	"github.com/aura-chat/backend/internal/archive"
	"github.com/aura-chat/backend/internal/history"
	"github.com/aura-chat/backend/pkg/database"
	"github.com/aura-chat/backend/pkg/queue"
	"github.com/aura-chat/backend/pkg/redis"
	"github.com/aura-chat/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	if cfg.Redis.Addr == "" {
		logger.Fatal("worker needs redis.addr for the job queue")
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	source, closeSource, err := openSource(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("history store", zap.Error(err))
	}
	defer closeSource()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Bucket:               cfg.AWS.ArchiveBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, "", logger)
	if dead, err := jobQueue.DeadLetters(ctx); err != nil {
		logger.Warn("read dead letters", zap.Error(err))
	} else if len(dead) > 0 {
		logger.Warn("archive jobs in dead letter queue", zap.Int("count", len(dead)))
	}
	archiver := archive.NewArchiver(source, s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		archiver.Run(workerCtx)
		close(done)
	}()
	logger.Info("archive worker started", zap.String("bucket", s3Client.Bucket()), zap.String("history", cfg.History.Backend))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

// openSource opens the persistent store the server appends to. The memory
// backend lives inside the server process and cannot be archived from here.
func openSource(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (history.Store, func(), error) {
	switch cfg.History.Backend {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, nil, err
		}
		return history.NewPostgresStore(pool), pool.Close, nil
	case "redis":
		return history.NewRedisStore(rdb.Client, cfg.History.RedisKey, logger), func() {}, nil
	}
	return nil, nil, errors.New("history.backend memory cannot be archived by a separate worker")
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
