package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/HilloriDesai/FileUpload/internal/api"
	"github.com/HilloriDesai/FileUpload/internal/config"
	"github.com/HilloriDesai/FileUpload/internal/database"
	"github.com/HilloriDesai/FileUpload/internal/logging"
	"github.com/HilloriDesai/FileUpload/internal/queue"
	"github.com/HilloriDesai/FileUpload/internal/repository"
	"github.com/HilloriDesai/FileUpload/internal/s3storage"
	"github.com/HilloriDesai/FileUpload/internal/service"
	"github.com/HilloriDesai/FileUpload/internal/storage"
	"github.com/HilloriDesai/FileUpload/internal/validation"
)

func main() {
	memory := flag.Bool("memory", false, "run with in-memory stores (no Postgres/MinIO/Redis)")
	dev := flag.Bool("dev", false, "use the development logger")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(*dev)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	rules := validation.Rules{
		MaxUploadSize:     cfg.MaxUploadSize,
		AllowedExtensions: cfg.AllowedExtensions,
	}

	var svc *service.Service
	if *memory {
		logger.Info("running with in-memory stores")
		svc = service.New(rules, storage.NewMemoryStore(), storage.NewMemoryBlobStore(), nil, logger)
	} else {
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

		queueClient := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer queueClient.Close()

		svc = service.New(rules, repo, store, queueClient, logger)
	}

	srv := api.New(cfg, svc, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
