package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	sbhttp "github.com/switchboard-hq/switchboard/internal/adapter/http"
	sbnats "github.com/switchboard-hq/switchboard/internal/adapter/nats"
	"github.com/switchboard-hq/switchboard/internal/adapter/postgres"
	"github.com/switchboard-hq/switchboard/internal/adapter/ristretto"
	"github.com/switchboard-hq/switchboard/internal/adapter/workerhttp"
	"github.com/switchboard-hq/switchboard/internal/adapter/ws"
	"github.com/switchboard-hq/switchboard/internal/config"
	"github.com/switchboard-hq/switchboard/internal/logger"
	"github.com/switchboard-hq/switchboard/internal/resilience"
	"github.com/switchboard-hq/switchboard/internal/service"
)

const senderName = "switchboard"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"static_workers", len(cfg.Workers),
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := sbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	registryCache, err := ristretto.New(cfg.Registry.CacheMaxBytes)
	if err != nil {
		return fmt.Errorf("registry cache: %w", err)
	}
	defer registryCache.Close()

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	events := service.NewEvents(hub, queue)

	endpoint := workerhttp.NewClient(cfg.Dispatch.Timeout)
	endpoint.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	registrySvc := service.NewRegistryService(store, registryCache, cfg.Registry.CacheTTL, cfg.Workers)
	cardSvc := service.NewCardService(store, events)
	taskSvc := service.NewTaskService(store, registrySvc, endpoint, cardSvc, events, senderName)

	// --- HTTP ---

	handlers := sbhttp.NewHandlers(taskSvc, cardSvc, registrySvc, pool)

	r := chi.NewRouter()
	r.Use(sbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sbhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	sbhttp.MountRoutes(r, handlers, hub.HandleWS, cfg.Server.AdminToken)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
