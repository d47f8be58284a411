package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/HilloriDesai/FileUpload/internal/config"
	"github.com/HilloriDesai/FileUpload/internal/database"
	"github.com/HilloriDesai/FileUpload/internal/logging"
	"github.com/HilloriDesai/FileUpload/internal/queue"
	"github.com/HilloriDesai/FileUpload/internal/repository"
	"github.com/HilloriDesai/FileUpload/internal/s3storage"
	"github.com/HilloriDesai/FileUpload/internal/service"
	"github.com/HilloriDesai/FileUpload/internal/validation"
	"github.com/HilloriDesai/FileUpload/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(false)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	repo := repository.NewFileRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.Fatal("init storage", zap.Error(err))
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Fatal("ensure bucket", zap.Error(err))
	}

	rules := validation.Rules{
		MaxUploadSize:     cfg.MaxUploadSize,
		AllowedExtensions: cfg.AllowedExtensions,
	}
	svc := service.New(rules, repo, store, nil, logger)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(svc, store, cfg.BinRetention, logger)
	mux := processor.Handler()

	if cfg.BinRetention > 0 {
		client := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		go scheduleSweeps(ctx, client, cfg.SweepInterval, logger)
	}

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}

// scheduleSweeps enqueues a bin sweep once per interval until the context is
// cancelled.
func scheduleSweeps(ctx context.Context, client *queue.Client, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.EnqueueBinSweep(ctx); err != nil {
				logger.Error("enqueue bin sweep", zap.Error(err))
			}
		}
	}
}
