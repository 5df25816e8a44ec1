package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/config"
	"github.com/vbonduro/buildtrack/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the project API",
	Long: `Serves the JSON API until interrupted. On shutdown, queued writes are
drained for up to FLUSH_TIMEOUT before the process exits.

Environment:
  LISTEN_ADDR     address to listen on (default :8080)
  BACKEND         local (SQLite) or remote (Postgres with row-level security)
  DB_PATH         SQLite file for the local backend
  PG_DSN          Postgres URL for the remote backend
  REDIS_ADDR      optional change feed shared by remote-backend processes
  AMQP_URL        optional RabbitMQ URL that receives permission errors
  JWT_SECRET      HS256 secret for bearer tokens (required for remote)
  LOCAL_USER_ID   principal for unauthenticated requests on the local backend
  STATUS_POLICY   rollup or manual
  CATALOG_PATH    phase catalog YAML (built-in catalog when empty)
  FILES_PATH      directory for uploaded photos and files`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	authCfg := web.AuthConfig{Secret: cfg.JWTSecret}
	if cfg.Backend == config.BackendLocal {
		authCfg.Fallback = &auth.Principal{UserID: cfg.LocalUserID}
	}
	server := web.NewServer(a.service, a.router, authCfg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.ListenAddr)
	})
	if a.feed != nil {
		g.Go(func() error {
			return ignoreCanceled(a.feed.Run(gctx, a.hub, nil))
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	if serr := a.shutdown(); serr != nil {
		logger.Error("shutdown incomplete", "error", serr)
		if err == nil {
			err = serr
		}
	}
	return err
}
