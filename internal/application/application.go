// Package application wires configuration into a running set of services:
// the selected store backend, the document store, the exchange service,
// the actor cache and metrics. Both the server and the CLI start from here.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/config"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/metrics"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
	"github.com/JonMunkholm/recordkeeper/internal/storage/memory"
	"github.com/JonMunkholm/recordkeeper/internal/storage/postgres"
)

// Backend is what both store implementations provide.
type Backend interface {
	storage.RecordStore
	storage.Transactor
	storage.Batcher
	audit.Sink
	audit.Reader
	actor.Source
	Ping(ctx context.Context) error
	PutActor(ctx context.Context, a audit.Actor) error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// App holds the wired services.
type App struct {
	Config    *config.Config
	Registry  *entity.Registry
	Metrics   *metrics.Metrics
	Store     Backend
	Documents *document.Store
	Exchange  *exchange.Service
	Actors    *actor.Cache
	Logger    *slog.Logger

	closers []func()
}

// New opens the configured store and builds every service on top of it.
// For postgres it connects, pings and applies the schema.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:   cfg,
		Registry: catalog.New(),
		Metrics:  metrics.New(),
		Logger:   logger,
	}

	var repo document.Repository
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		mem := memory.New()
		app.Store, repo = mem, mem.Documents()
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pool.Close)

		pg := postgres.New(pool, app.Registry, logger)
		if err := pg.Migrate(ctx); err != nil {
			app.Close()
			return nil, err
		}
		app.Store, repo = pg, pg.Documents()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	importActor := audit.Actor{ID: cfg.Exchange.ImportActor, Name: "Import", Role: audit.RoleSystem}
	seeds, err := ParseActors(cfg.Store.SeedActors)
	if err != nil {
		app.Close()
		return nil, err
	}
	for _, a := range append([]audit.Actor{importActor}, seeds...) {
		if err := app.Store.PutActor(ctx, a); err != nil {
			app.Close()
			return nil, fmt.Errorf("seed actor %s: %w", a.ID, err)
		}
	}

	app.Documents = document.NewStore(repo, app.Store, app.Store,
		document.WithRecorder(app.Metrics),
		document.WithLogger(logger),
	)
	app.Exchange = exchange.NewService(exchange.Config{
		ScratchDir:        cfg.Exchange.ScratchDir,
		SchemaVersion:     cfg.Exchange.SchemaVersion,
		ChunkSize:         cfg.Exchange.ChunkSize,
		MaxEntrySize:      cfg.Exchange.MaxEntrySize,
		MaxConcurrent:     cfg.Exchange.MaxConcurrent,
		MaxWait:           cfg.Exchange.MaxWaitTime,
		ExportParallelism: cfg.Exchange.ExportParallelism,
		ImportActor:       importActor,
	}, app.Registry, app.Store, app.Store, app.Documents,
		exchange.WithRecorder(app.Metrics),
		exchange.WithLogger(logger),
	)
	app.Actors = actor.NewCache(app.Store, cfg.Cache.ActorSize, cfg.Cache.ActorTTL, actor.WithRecorder(app.Metrics))

	logger.Info("application ready",
		"store", cfg.Store.Driver,
		"entities", app.Registry.Len(),
		"seeded_actors", len(seeds),
	)
	return app, nil
}

// DefaultMode returns the configured import mode.
func (a *App) DefaultMode() exchange.Mode {
	mode, err := exchange.ParseMode(a.Config.Exchange.DefaultMode)
	if err != nil {
		return exchange.ModeMerge
	}
	return mode
}

// Close releases the store. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ParseActors parses id:role[:name] entries.
func ParseActors(entries []string) ([]audit.Actor, error) {
	out := make([]audit.Actor, 0, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("actor entry %q: want id:role[:name]", entry)
		}
		role := audit.Role(strings.ToLower(parts[1]))
		switch role {
		case audit.RoleAdmin, audit.RoleEditor, audit.RoleViewer, audit.RoleSystem:
		default:
			return nil, fmt.Errorf("actor entry %q: unknown role %q", entry, parts[1])
		}
		a := audit.Actor{ID: parts[0], Role: role}
		if len(parts) == 3 {
			a.Name = parts[2]
		}
		out = append(out, a)
	}
	return out, nil
}
