// Package control assembles the application: storage, hub client,
// sync engine, task runner and health server, with lifecycle
// management for startup and graceful shutdown.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/infra/hub"
	redisclient "github.com/vietddude/walletsync/internal/infra/redis"
	"github.com/vietddude/walletsync/internal/infra/storage"
	"github.com/vietddude/walletsync/internal/infra/storage/memory"
	"github.com/vietddude/walletsync/internal/infra/storage/postgres"
	"github.com/vietddude/walletsync/internal/sync/engine"
	"github.com/vietddude/walletsync/internal/sync/health"
	"github.com/vietddude/walletsync/internal/sync/worker"
)

// App is the main application struct managing the sync service lifecycle.
type App struct {
	cfg          *config.AppConfig
	engine       *engine.Engine
	runner       *worker.Runner
	healthServer *health.Server
	store        storage.Store
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
	cancel       context.CancelFunc
}

// NewApp creates the application with all dependencies initialized.
// With no database URL configured the store is in-memory; with no
// redis URL the background sync scheduler is disabled.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	var (
		store storage.Store
		db    *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, err
		}
		store = postgres.NewStorage(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewMemoryStorage()
		log.Info("Using Memory storage")
	}

	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
	}

	hubClient, err := hub.NewHTTPClient(cfg.Hub.BaseURL, cfg.Hub.AuthToken, cfg.Hub.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to init hub client: %w", err)
	}

	eng := engine.New(store, hubClient, redisClient, cfg.Sync, cfg.Hub.RequestTimeout, log)
	runner := worker.NewRunner(store, eng.Transfers(), cfg.Sync, log)

	var checkers []health.CheckerFunc
	if db != nil {
		checkers = append(checkers, health.CheckerFunc{
			Component: "database",
			Fn:        db.PingContext,
			Critical:  true,
		})
	}
	if redisClient != nil {
		checkers = append(checkers, health.CheckerFunc{
			Component: "redis",
			Fn:        redisClient.Ping,
		})
	}
	healthServer := health.NewServer(health.NewMonitor(checkers...), cfg.Server.Port)

	return &App{
		cfg:          cfg,
		engine:       eng,
		runner:       runner,
		healthServer: healthServer,
		store:        store,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Engine returns the sync engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Start launches the health server, the task runner and, when redis is
// configured, the background sync scheduler.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		if err := a.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	go a.runner.Start(ctx)

	if a.redisClient != nil {
		go func() {
			if err := a.engine.RunScheduler(ctx); err != nil {
				a.log.Error("Sync scheduler stopped", "error", err)
			}
		}()
	}

	a.log.Info("Sync service started", "port", a.cfg.Server.Port)
	return nil
}

// Stop shuts the application down gracefully.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		return err
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return err
		}
	}
	return nil
}
