// Command relayd runs the session relay: the HTTP session lifecycle API,
// the client-facing websocket gateway, the idle reaper, and the journal
// pruner, all sharing one SQLite-backed session store and event journal.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/sessionrelay/hub/internal/api"
	"github.com/sessionrelay/hub/internal/config"
	"github.com/sessionrelay/hub/internal/dbopen"
	"github.com/sessionrelay/hub/internal/hubmanager"
	"github.com/sessionrelay/hub/internal/journal"
	"github.com/sessionrelay/hub/internal/metrics"
	"github.com/sessionrelay/hub/internal/middleware"
	"github.com/sessionrelay/hub/internal/reaper"
	"github.com/sessionrelay/hub/internal/sandbox"
	"github.com/sessionrelay/hub/internal/sessionstore"
	"github.com/sessionrelay/hub/internal/wsgateway"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting relay", "port", cfg.Port, "dev", cfg.IsDevelopment())

	db, err := dbopen.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	sessions, err := sessionstore.NewSQLite(db)
	if err != nil {
		slog.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}

	journalStore, err := journal.NewSQLite(db)
	if err != nil {
		slog.Error("failed to initialize journal", "error", err)
		os.Exit(1)
	}

	provider, err := sandbox.NewDockerProvider(cfg.Sandbox.Runtime, cfg.Sandbox.Image)
	if err != nil {
		slog.Error("failed to initialize sandbox provider", "error", err)
		os.Exit(1)
	}
	slog.Info("sandbox provider initialized", "runtime", cfg.Sandbox.Runtime, "image", cfg.Sandbox.Image)

	hubs := hubmanager.New(sessions, journalStore, provider)

	envTimeouts := reaper.StaticTimeouts{TimeoutSeconds: int(cfg.Reaper.DefaultIdleTimeout.Seconds())}
	idleReaper, err := reaper.New(sessions, hubs, provider, envTimeouts, cfg.Reaper.CheckInterval)
	if err != nil {
		slog.Error("failed to initialize idle reaper", "error", err)
		os.Exit(1)
	}

	pruner, err := journal.NewPruner(journalStore, cfg.Journal.RetentionPeriod, cfg.Journal.PruneInterval)
	if err != nil {
		slog.Error("failed to initialize journal pruner", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := idleReaper.Start(ctx); err != nil {
		slog.Error("failed to start idle reaper", "error", err)
		os.Exit(1)
	}
	defer func() {
		if stopErr := idleReaper.Stop(); stopErr != nil {
			slog.Error("failed to stop idle reaper", "error", stopErr)
		}
	}()

	if err := pruner.Start(ctx); err != nil {
		slog.Error("failed to start journal pruner", "error", err)
		os.Exit(1)
	}
	defer func() {
		if stopErr := pruner.Stop(); stopErr != nil {
			slog.Error("failed to stop journal pruner", "error", stopErr)
		}
	}()

	baseHandler := api.NewHandler(sessions, hubs, provider)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(sessions, cfg.HealthTimeout)
	wsHandler := wsgateway.New(hubs, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{cfg.FrontendURL, "*"}))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws/session", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websockets are long-lived; no blanket write timeout
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("relay server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hubs.CloseAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("relay server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("relay stopped successfully")
}
