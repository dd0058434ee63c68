package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/noteuploader/internal/api"
	"github.com/nikhilbhutani/noteuploader/internal/api/handlers"
	"github.com/nikhilbhutani/noteuploader/internal/cache"
	"github.com/nikhilbhutani/noteuploader/internal/config"
	"github.com/nikhilbhutani/noteuploader/internal/database"
	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/ocr"
	_ "github.com/nikhilbhutani/noteuploader/internal/ocr/gosseract"
	_ "github.com/nikhilbhutani/noteuploader/internal/ocr/vision"
	"github.com/nikhilbhutani/noteuploader/internal/queue"
	"github.com/nikhilbhutani/noteuploader/internal/session"
	"github.com/nikhilbhutani/noteuploader/internal/watcher"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]handlers.Pinger{}

	// Catalog database is optional; the store works from the file system alone.
	var (
		catalog       document.Catalog
		catalogReader handlers.CatalogReader
	)
	if cfg.Database.URL != "" {
		db, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Warn("database unavailable, running without catalog", "error", err)
		} else {
			defer db.Close()
			if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
				slog.Warn("migrations failed", "error", err)
			}
			pg := document.NewPGCatalog(db)
			catalog, catalogReader = pg, pg
			checks["database"] = db
		}
	}

	store, err := document.NewStore(document.Config{
		Dir:          cfg.Storage.DocumentsDir,
		AllowedTypes: cfg.Storage.AllowedTypes,
		CopyWorkers:  cfg.Storage.CopyWorkers,
	}, catalog)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}

	engine, ocrCfg, err := ocr.FromConfig(cfg.OCR)
	if err != nil {
		slog.Error("failed to create OCR engine", "error", err, "available", ocr.Engines())
		os.Exit(1)
	}
	if p, ok := engine.(handlers.Pinger); ok {
		checks["ocr"] = p
	}

	// Redis backs the result cache and the job queue; both are optional.
	var (
		opts []extract.Option
		q    handlers.Enqueuer
		jobs handlers.JobReader
	)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without cache or queue", "error", err)
	} else {
		c := cache.NewCache(rdb, cfg.Redis.ResultTTL)
		opts = append(opts, extract.WithCache(c))
		jobs = c
		checks["redis"] = c

		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		q = qc
	}

	dispatcher := extract.NewDispatcher(engine, ocrCfg, opts...)
	sessions := session.NewManager(dispatcher, cfg.Session.IdleTimeout)
	go sessions.Run(ctx)

	if cfg.Storage.InboxDir != "" {
		inbox := watcher.NewInbox(cfg.Storage.InboxDir, cfg.Storage.AllowedTypes, 0, store)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				slog.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Store:      store,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Queue:      q,
		Jobs:       jobs,
		Catalog:    catalogReader,
		Checks:     checks,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(ctx),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "ocr_engine", engine.Name(), "store", store.Dir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
