package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/TaskForge/internal/adapter/eventbus"
	tfhttp "github.com/Strob0t/TaskForge/internal/adapter/http"
	"github.com/Strob0t/TaskForge/internal/adapter/httpdl"
	tfmcp "github.com/Strob0t/TaskForge/internal/adapter/mcp"
	"github.com/Strob0t/TaskForge/internal/adapter/memstore"
	tfnats "github.com/Strob0t/TaskForge/internal/adapter/nats"
	"github.com/Strob0t/TaskForge/internal/adapter/natskv"
	tfotel "github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/postgres"
	"github.com/Strob0t/TaskForge/internal/adapter/ristretto"
	"github.com/Strob0t/TaskForge/internal/adapter/tiered"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/middleware"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
	"github.com/Strob0t/TaskForge/internal/port/taskstore"
	"github.com/Strob0t/TaskForge/internal/service"
)

// memHistorySize bounds the in-memory run history.
const memHistorySize = 1000

// openStore returns the Postgres history store when a DSN is configured,
// otherwise a bounded in-memory one.
func openStore(ctx context.Context, cfg *config.Config) (taskstore.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		slog.Info("task history kept in memory", "capacity", memHistorySize)
		return memstore.New(memHistorySize), func() {}, nil
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")
	return postgres.NewStore(pool), pool.Close, nil
}

// feedStack is the selected event feed with its snapshot source.
type feedStack struct {
	feed      eventfeed.Feed
	snapshots eventfeed.Snapshotter
	close     func()
}

// openFeed selects the NATS feed when a URL is configured, else the
// in-process bus. Last-value snapshots live in ristretto, backed by a
// JetStream KV bucket in the NATS case.
func openFeed(ctx context.Context, cfg *config.Config) (*feedStack, error) {
	local, err := ristretto.New(cfg.Cache.SnapshotMaxMB << 20)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}

	if cfg.NATS.URL == "" {
		bus := eventbus.New(local)
		slog.Info("event feed: in-process bus")
		return &feedStack{feed: bus, snapshots: bus, close: local.Close}, nil
	}

	conn, err := tfnats.Connect(cfg.NATS.URL, cfg.NATS.Name)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("nats: %w", err)
	}
	kv, err := conn.SnapshotKV(ctx, cfg.NATS.SnapshotTTL)
	if err != nil {
		conn.Close()
		local.Close()
		return nil, fmt.Errorf("nats kv: %w", err)
	}

	feed := tfnats.NewFeed(conn, tiered.New(local, natskv.New(kv), cfg.Cache.LocalTTL))
	slog.Info("event feed: nats", "url", cfg.NATS.URL, "bucket", tfnats.SnapshotBucket)
	return &feedStack{
		feed:      feed,
		snapshots: feed,
		close: func() {
			if err := conn.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
			local.Close()
		},
	}, nil
}

// newRouter assembles middleware, the API, the WebSocket stream and MCP.
func newRouter(cfg *config.Config, hub *ws.Hub, tasks *service.TaskService, downloads *httpdl.Manager) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(tfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(tfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tfhttp.SecurityHeaders)
	r.Use(middleware.NewTokenAuth(cfg.Auth.TokenHash).Handler)
	r.Use(tfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/ws", hub.HandleWS)
	tfhttp.MountRoutes(r, &tfhttp.Handlers{
		Tasks:     tasks,
		Downloads: downloads,
		Version:   version,
	})

	if cfg.MCP.Enabled {
		mcpServer := tfmcp.NewServer(tfmcp.ServerConfig{Name: "taskforge", Version: version}, tfmcp.ServerDeps{
			Tasks:     tasks,
			Downloads: downloads,
		})
		r.Handle(tfmcp.EndpointPath, mcpServer.Handler())
		slog.Info("mcp endpoint enabled", "path", tfmcp.EndpointPath)
	}
	return r
}
