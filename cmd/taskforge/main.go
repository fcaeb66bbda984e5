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

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/TaskForge/internal/adapter/exechost"
	"github.com/Strob0t/TaskForge/internal/adapter/httpdl"
	"github.com/Strob0t/TaskForge/internal/adapter/localfs"
	tfotel "github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/logger"
	"github.com/Strob0t/TaskForge/internal/resilience"
	"github.com/Strob0t/TaskForge/internal/runner"
	"github.com/Strob0t/TaskForge/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"version", version,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"work_dir", cfg.Process.WorkDir,
		"postgres", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	switch {
	case cfg.Auth.Disabled:
		slog.Warn("api authentication disabled", "addr", cfg.ListenAddr())
	case cfg.Auth.TokenHash == "" && cfg.Server.Host == "":
		slog.Warn("no auth.token_hash set, serving on loopback only", "addr", cfg.ListenAddr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := tfotel.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := tfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	feed, err := openFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer feed.close()

	files := localfs.New(cfg.Process.WorkDir)
	host := exechost.New(exechost.Options{
		WorkDir:       cfg.Process.WorkDir,
		MaxConcurrent: cfg.Process.MaxConcurrent,
		StopGrace:     cfg.Process.StopGrace,
	})
	downloads := httpdl.New(feed.feed, files, httpdl.Options{
		PublishInterval: cfg.Download.PublishInterval,
		Breakers:        resilience.NewRegistry(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		UserAgent:       cfg.Download.UserAgent,
	})
	defer downloads.Close()

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin, feed.snapshots)
	unrelay, err := hub.RelayDownloads(feed.feed)
	if err != nil {
		return err
	}
	defer unrelay()

	tools := service.NewToolchain(files, host, runner.DownloadDeps{
		Paths:   files,
		Feed:    feed.feed,
		Manager: downloads,
	}, cfg.Toolchain.Python)
	tasks := service.NewTaskService(tools, store, hub, metrics)

	// --- HTTP ---

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           newRouter(cfg, hub, tasks, downloads),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		host.Close()
		tasks.StopAll()
		err := srv.Shutdown(shutdownCtx)
		hub.CloseAll()
		if werr := tasks.Wait(shutdownCtx); werr != nil {
			slog.Warn("tasks still settling at shutdown", "error", werr)
		}
		return err
	})
	return g.Wait()
}
