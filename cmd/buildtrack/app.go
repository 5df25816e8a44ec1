package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vbonduro/buildtrack/internal/catalog"
	"github.com/vbonduro/buildtrack/internal/changefeed"
	"github.com/vbonduro/buildtrack/internal/config"
	"github.com/vbonduro/buildtrack/internal/db"
	"github.com/vbonduro/buildtrack/internal/errsink"
	"github.com/vbonduro/buildtrack/internal/errsurface"
	"github.com/vbonduro/buildtrack/internal/filestore/local"
	"github.com/vbonduro/buildtrack/internal/gateway"
	"github.com/vbonduro/buildtrack/internal/livequery"
	"github.com/vbonduro/buildtrack/internal/logging"
	"github.com/vbonduro/buildtrack/internal/pgstore"
	"github.com/vbonduro/buildtrack/internal/progress"
	"github.com/vbonduro/buildtrack/internal/service"
	"github.com/vbonduro/buildtrack/internal/store"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	hub     *livequery.Hub
	emitter *errsurface.Emitter
	router  *errsurface.Router
	gateway *gateway.Gateway
	service *service.ProjectService
	feed    *changefeed.Feed

	closers []func()
}

// hubPublisher notifies the in-process hub directly when no change feed is
// configured, so live queries still follow remote writes made here.
type hubPublisher struct {
	hub *livequery.Hub
}

func (p hubPublisher) Publish(_ context.Context, path string) error {
	p.hub.Notify(path)
	return nil
}

func loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, cleanup, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(cfg.CatalogPath)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		hub:     livequery.NewHub(),
		emitter: errsurface.NewEmitter(),
		router:  errsurface.NewRouter(logger),
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.AMQPURL != "" {
		sink, err := errsink.Dial(cfg.AMQPURL, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		detach := sink.Attach(a.emitter)
		a.closers = append(a.closers, func() {
			detach()
			sink.Close()
		})
		logger.Info("forwarding permission errors", "exchange", errsink.ExchangeName)
	}
	a.closers = append(a.closers, a.router.Mount(a.emitter))

	cat, err := loadCatalog(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	files, err := local.New(cfg.FilesPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}

	a.gateway = gateway.New(backend, a.hub, a.emitter, logger)
	a.service = service.NewProjectService(a.gateway, progress.NewEngine(cfg.Policy()), cat, files, logger)
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (gateway.Backend, error) {
	switch a.cfg.Backend {
	case config.BackendRemote:
		if err := pgstore.Migrate(a.cfg.PGDSN); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		pool, err := pgstore.Connect(ctx, a.cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		var pub pgstore.ChangePublisher = hubPublisher{hub: a.hub}
		if a.cfg.RedisAddr != "" {
			rdb := changefeed.NewClient(a.cfg.RedisAddr)
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			a.feed = changefeed.New(rdb, changefeed.DefaultChannel, a.logger)
			pub = a.feed
		}
		a.logger.Info("using remote backend", "change_feed", a.feed != nil)
		return pgstore.New(pool, pub, a.logger), nil
	default:
		database, err := db.Open(a.cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := database.Close(); err != nil {
				a.logger.Error("failed to close database", "error", err)
			}
		})
		a.logger.Info("using local backend", "path", a.cfg.DBPath)
		return store.NewDocumentStore(database, a.hub), nil
	}
}

// shutdown drains queued writes within the configured flush timeout and
// releases every resource.
func (a *app) shutdown() error {
	var err error
	if a.gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.FlushTimeout)
		defer cancel()
		if cerr := a.gateway.Close(ctx); cerr != nil {
			err = fmt.Errorf("failed to drain writes: %w", cerr)
		}
	}
	a.close()
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ignoreCanceled treats a context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
