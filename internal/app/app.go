// Package app initializes and runs the sync daemon: it wires the local
// cache, the remote store, the scheduler, the entity services, the change
// listeners, and the sync orchestrator, and drives periodic full syncs
// until shutdown.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kithapp/kith/internal/auth"
	"github.com/kithapp/kith/internal/config"
	"github.com/kithapp/kith/internal/listener"
	"github.com/kithapp/kith/internal/localdb"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/remote"
	"github.com/kithapp/kith/internal/remote/httpstore"
	"github.com/kithapp/kith/internal/remote/memory"
	"github.com/kithapp/kith/internal/repositories/accounts"
	"github.com/kithapp/kith/internal/repositories/events"
	"github.com/kithapp/kith/internal/repositories/relationships"
	"github.com/kithapp/kith/internal/scheduler"
	"github.com/kithapp/kith/internal/services"
	"github.com/kithapp/kith/internal/syncer"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	store       remote.Store
	broadcaster *auth.Broadcaster
	sched       *scheduler.Scheduler
	listeners   *listener.Manager
	syncer      *syncer.Service
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := localdb.Open(ctx, cfg.LocalDSN)
	if err != nil {
		return nil, fmt.Errorf("local db init error: %w", err)
	}

	var store remote.Store
	if cfg.Offline {
		logger.Info(ctx, "running offline against an in-memory store")
		store = memory.New()
	} else {
		store = httpstore.New(cfg.RemoteEndpoint, cfg.AuthToken, logger)
	}

	broadcaster := auth.NewBroadcaster()
	sched := scheduler.New(logger)

	accountSvc := services.NewAccountService(store, accounts.NewSQLiteRepository(db), broadcaster, logger)
	relSvc := services.NewRelationshipService(store, relationships.NewSQLiteRepository(db), logger)
	eventSvc := services.NewEventService(store, events.NewSQLiteRepository(db), logger)

	listeners := listener.NewManager(store, accountSvc, relSvc, logger)
	sync := syncer.New(sched, accountSvc, relSvc, eventSvc, store, broadcaster, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		store:       store,
		broadcaster: broadcaster,
		sched:       sched,
		listeners:   listeners,
		syncer:      sync,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sync daemon")
	app.initSignalHandler(cancelFunc)

	app.listeners.Start(app.broadcaster.Subscribe("listener"))

	if app.config.AuthToken != "" {
		accountID, err := auth.AccountIDFromToken(app.config.AuthToken)
		if err != nil {
			app.logger.Error(ctx, "invalid auth token", "error", err)
		} else {
			app.broadcaster.Publish(auth.Authenticated(accountID))
			app.fullSync(ctx)
		}
	} else {
		app.logger.Warn(ctx, "no auth token configured, staying signed out")
	}

	ticker := time.NewTicker(app.config.FullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.shutdown()
			return
		case <-ticker.C:
			app.fullSync(ctx)
		}
	}
}

func (app *App) fullSync(ctx context.Context) {
	err := app.syncer.PerformFullSync(ctx)
	if err != nil && !errors.Is(err, scheduler.ErrThrottled) {
		app.logger.Error(ctx, "full sync failed", "error", err)
	}
}

// shutdown tears components down in reverse construction order.
func (app *App) shutdown() {
	ctx := context.Background()
	app.logger.Info(ctx, "shutting down")

	app.listeners.Stop()
	app.sched.Stop()
	app.broadcaster.Close()
	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "remote store close error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "local db close error", "error", err)
	}
}
