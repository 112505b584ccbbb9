// Package app wires Parrot together: the chain store, the session cache, the
// Matrix client, the bot logic and the health server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bdobrica/Parrot/internal/parrot/cache"
	"github.com/bdobrica/Parrot/internal/parrot/chainstore"
	"github.com/bdobrica/Parrot/internal/parrot/config"
	"github.com/bdobrica/Parrot/internal/parrot/matrix"
	"github.com/bdobrica/Parrot/internal/parrot/metrics"
)

// App is the running bot.
type App struct {
	cfg          *config.Config
	store        chainstore.Store
	cache        *cache.Cache
	matrix       *matrix.Client
	bot          *Bot
	healthServer *HealthServer
}

// New opens the store and builds every component. It does not connect to the
// homeserver; Run does.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.ValidateMatrix(); err != nil {
		return nil, err
	}

	store, err := chainstore.New(cfg.Store)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	c := cache.New(store, cfg.Cache.Cycle, m)

	var syncDB matrix.SyncDB
	if s, ok := store.(*chainstore.SQL); ok {
		syncDB = s
	}
	mc, err := matrix.New(cfg.Matrix, syncDB)
	if err != nil {
		store.Close()
		return nil, err
	}

	var hs *HealthServer
	if cfg.HTTP.Addr != "" {
		hs = NewHealthServer(cfg.HTTP.Addr, c, registry)
	}

	return &App{
		cfg:          cfg,
		store:        store,
		cache:        c,
		matrix:       mc,
		bot:          NewBot(mc, c, cfg.Bot, m),
		healthServer: hs,
	}, nil
}

// Run starts the health server and the Matrix sync loop, then blocks until
// ctx ends or the process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync", "user_id", a.cfg.Matrix.UserID, "rooms", len(a.cfg.Matrix.Rooms))
	if err := a.matrix.Start(ctx, a.bot.HandleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("Parrot is running; press Ctrl+C to stop")
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop halts syncing, writes every pending chain and closes the store.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Cache.FlushTimeout)
	defer cancel()
	if err := a.cache.FlushAll(ctx); err != nil {
		slog.Error("some chains could not be flushed", "err", err)
	}

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing chain store")
	if err := a.store.Close(); err != nil {
		slog.Warn("chain store close error", "err", err)
	}
}
