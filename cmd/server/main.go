// Package main is the entrypoint for the MenuLens API server. One process
// serves the HTTP API and runs the scan worker pool; horizontal scaling is
// just more copies of the same binary sharing Postgres and Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/menulens/api/internal/api"
	"github.com/menulens/api/internal/api/handler"
	mw "github.com/menulens/api/internal/api/middleware"
	"github.com/menulens/api/internal/api/response"
	"github.com/menulens/api/internal/cache"
	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/embedding"
	"github.com/menulens/api/internal/events"
	"github.com/menulens/api/internal/jobs"
	"github.com/menulens/api/internal/match"
	"github.com/menulens/api/internal/notify"
	"github.com/menulens/api/internal/objstore"
	"github.com/menulens/api/internal/scan"
	"github.com/menulens/api/internal/store"
	"github.com/menulens/api/internal/vision"
)

const (
	shutdownTimeout  = 30 * time.Second
	embeddingTimeout = 10 * time.Second
	pushTimeout      = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"vision_provider", cfg.Vision.Provider,
		"objstore_mode", cfg.Objstore.Mode,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create vision provider (plus fallback when one is configured)
	provider, err := vision.NewProvider(cfg.Vision)
	if err != nil {
		return fmt.Errorf("create vision provider: %w", err)
	}
	fallback := vision.NewFallbackProvider(cfg.Vision)
	slog.Info("vision provider initialized", "provider", provider.Name())

	// 6. Create object storage
	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	slog.Info("object store initialized", "mode", cfg.Objstore.Mode)

	// 7. Create store and the scan pipeline
	pgStore := store.NewPostgresStore(pool)

	var embedder embedding.Client
	if cfg.Match.EmbeddingBaseURL != "" {
		embedder = embedding.NewHTTPClient(cfg.Match.EmbeddingBaseURL, embeddingTimeout)
	}
	matcher := match.NewMatcher(pgStore, embedder, cfg.Match)
	pipeline := scan.NewPipeline(cfg, provider, fallback, matcher, pgStore, objects)

	// 8. Create the task queue client and the job service
	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis URI for queue: %w", err)
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	pusher := notify.NewExpoClient(cfg.Notify.ExpoPushURL, pushTimeout)
	svc := jobs.NewService(cfg, pgStore, redisCache, objects, pipeline, queueClient, pusher)

	// 9. Start the scan worker pool
	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      map[string]int{cfg.Queue.Name: 1},
	})
	taskMux := asynq.NewServeMux()
	taskMux.HandleFunc(jobs.TypeScanRun, svc.HandleScanTask)
	if err := worker.Start(taskMux); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer worker.Shutdown()
	slog.Info("worker pool started", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)

	// 10. Start the janitor, sweeping once to recover anything that went
	// stale while the process was down
	janitor := jobs.NewJanitor(cfg, pgStore, queueClient)
	janitor.Sweep()
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer janitor.Stop()

	// 11. Build router with dependencies
	streamer := events.NewStreamer(pgStore, cfg.Stream)

	// Only backends that verify their own upload tokens (memory mode) serve
	// the direct-upload endpoint; other modes leave the route at 501.
	var directUpload http.HandlerFunc
	if du, ok := objects.(handler.DirectUploadStore); ok {
		directUpload = handler.NewDirectUploadHandler(du, cfg.Objstore.UploadMaxBytes)
	}

	deps := api.Dependencies{
		RateLimit:    mw.NewRateLimit(redisCache, cfg.Scan.RateLimitPerMinute),
		InternalAuth: mw.NewInternalAuth(cfg.Internal.TokenHash),

		HealthHandler:       healthHandler(pgStore, redisCache),
		SignedURLHandler:    handler.NewSignedURLHandler(objects),
		DirectUploadHandler: directUpload,
		CreateScanJob:       handler.NewCreateScanJobHandler(svc, cfg.Scan.DefaultLanguage),
		JobSnapshot:         handler.NewJobSnapshotHandler(svc),
		ScanEvents:          handler.NewScanEventsHandler(svc, streamer),
		LegacyStream:        handler.NewLegacyStreamHandler(pipeline, cfg.Scan.DefaultLanguage),
		GeneratedAsset:      handler.NewGeneratedAssetHandler(objects),

		KnowledgeFetch:   handler.NewKnowledgeFetchHandler(pgStore),
		KnowledgeUpsert:  handler.NewKnowledgeUpsertHandler(pgStore),
		ScanRecordInsert: handler.NewScanRecordInsertHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 12. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open far longer than any
		// sane write deadline. The streamer bounds them with its own
		// max-wait instead.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout. Deferred stops then drain the janitor
	// and the worker pool before the connections close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newObjectStore builds the configured storage backend. Memory mode signs
// uploads against this API's own direct-upload endpoint.
func newObjectStore(ctx context.Context, cfg *config.Config) (objstore.Store, error) {
	switch cfg.Objstore.Mode {
	case "s3":
		return objstore.NewS3Store(ctx, cfg.Objstore)
	case "memory":
		signer := objstore.NewUploadSigner(cfg.Objstore.SigningSecret)
		return objstore.NewMemoryStore(cfg.Server.PublicBaseURL, signer, cfg.Objstore.UploadTTL), nil
	default:
		return nil, fmt.Errorf("unknown objstore mode %q", cfg.Objstore.Mode)
	}
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
