package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"todoline/internal/bus"
	"todoline/internal/config"
	"todoline/internal/db"
	"todoline/internal/domain"
	"todoline/internal/engine"
	"todoline/internal/events"
	"todoline/internal/filter"
	"todoline/internal/input"
	"todoline/internal/kv"
	"todoline/internal/migrate"
	"todoline/internal/repo"
	"todoline/internal/store"
)

type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *log.Logger
	Now       func() time.Time
}

// App is the application context. It owns the stores and wires every
// component to the one bus.
type App struct {
	Workspace string
	Config    *config.Config
	Logger    *log.Logger
	Now       func() time.Time

	// DB is nil when storage is unavailable.
	DB      *sql.DB
	Repo    repo.Repo
	Adapter *kv.Adapter

	Bus     *bus.Bus
	Tasks   *store.Tasks
	Groups  *store.Groups
	Engine  *engine.Engine
	Journal events.Journal
	Filter  *filter.State
	Query   filter.Query
	Parser  *input.Parser
}

// Open builds the application context, loads both stores and requests the
// first redraw. Storage failures degrade to a memory-only session rather than
// failing.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &App{Workspace: opts.Workspace, Config: cfg, Logger: logger, Now: now}

	conn, reason := openStorage(ctx, opts.Workspace, cfg)
	var backend kv.Backend
	if conn != nil {
		a.DB = conn
		a.Repo = repo.Repo{DB: conn, Now: now}
		backend = a.Repo
	}
	a.Adapter = kv.New(backend, logger, reason)

	weekStart, _ := filter.ParseWeekStart(cfg.Filter.WeekStart)
	initial, _ := filter.ParseSelector(cfg.Filter.DefaultView, "")
	prio := domain.PriorityMedium
	if cfg.Tasks.DefaultPriority != "" {
		prio, _ = domain.ParsePriority(cfg.Tasks.DefaultPriority)
	}

	a.Bus = bus.New(logger)
	a.Tasks = store.NewTasks(a.Adapter, logger)
	a.Groups = store.NewGroups(a.Adapter, logger)
	// the journal subscribes first so rows follow publish order
	a.Journal = events.Journal{DB: a.DB, Now: now, Logger: logger}
	a.Journal.Attach(a.Bus)
	a.Engine = engine.New(a.Bus, a.Tasks, a.Groups, logger)
	a.Engine.Register()
	a.Filter = filter.NewState(a.Bus, initial, logger)
	a.Filter.Register()
	a.Query = filter.Query{Tasks: a.Tasks, Groups: a.Groups, Matcher: filter.Matcher{WeekStart: weekStart}, Now: now}
	a.Parser = input.NewParser(prio)

	a.Tasks.Load()
	a.Groups.Load()
	if err := a.Bus.Publish(events.DisplayRequested, nil); err != nil {
		logger.Printf("initial display: %v", err)
	}
	return a, nil
}

func openStorage(ctx context.Context, workspace string, cfg *config.Config) (*sql.DB, error) {
	if cfg.Storage.Disabled {
		return nil, errors.New("storage disabled by config")
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// Persistent reports whether writes reach durable storage.
func (a *App) Persistent() bool { return a.Adapter.Available() }

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
