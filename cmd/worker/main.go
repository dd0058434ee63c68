package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/noteuploader/internal/cache"
	"github.com/nikhilbhutani/noteuploader/internal/config"
	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/ocr"
	_ "github.com/nikhilbhutani/noteuploader/internal/ocr/gosseract"
	_ "github.com/nikhilbhutani/noteuploader/internal/ocr/vision"
	"github.com/nikhilbhutani/noteuploader/internal/queue"
	"github.com/nikhilbhutani/noteuploader/internal/queue/workers"
	"github.com/nikhilbhutani/noteuploader/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	store, err := document.NewStore(document.Config{
		Dir:          cfg.Storage.DocumentsDir,
		AllowedTypes: cfg.Storage.AllowedTypes,
		CopyWorkers:  cfg.Storage.CopyWorkers,
	}, nil)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}

	engine, ocrCfg, err := ocr.FromConfig(cfg.OCR)
	if err != nil {
		slog.Error("failed to create OCR engine", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	results := cache.NewCache(rdb, cfg.Redis.ResultTTL)

	dispatcher := extract.NewDispatcher(engine, ocrCfg, extract.WithCache(results))
	extractWorker := workers.NewExtractWorker(store, dispatcher, results)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Worker.WebhookURL != "" {
		notifier := webhook.NewNotifier(cfg.Worker.WebhookURL, cfg.Worker.WebhookSecret)
		go notifier.Run(ctx)
		extractWorker.WithNotifier(notifier)
	}

	mux := queue.NewMux(map[string]asynq.Handler{
		queue.TypeDocumentExtract: asynq.HandlerFunc(extractWorker.ProcessTask),
	})

	srv := queue.NewServer(cfg.Redis, cfg.Worker.Concurrency)
	slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency, "store", store.Dir())
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
