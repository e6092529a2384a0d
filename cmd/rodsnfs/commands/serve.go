package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/rodsnfs/internal/logger"
	nfsproto "github.com/marmos91/rodsnfs/internal/protocol/nfs"
	httpadapter "github.com/marmos91/rodsnfs/pkg/adapter/http"
	nfsadapter "github.com/marmos91/rodsnfs/pkg/adapter/nfs"
	"github.com/marmos91/rodsnfs/pkg/config"
	"github.com/marmos91/rodsnfs/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the NFS gateway in the foreground",
	Long: `Run the NFS gateway until SIGINT or SIGTERM.

Examples:
  # Serve with the default configuration file
  rodsnfs serve

  # Serve with a custom configuration and debug logging
  rodsnfs serve --config /etc/rodsnfs/config.yaml --log-level DEBUG

  # Override a setting from the environment
  RODSNFS_SERVER_PORT=2049 rodsnfs serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("configuration loaded", "source", getConfigSource(), "level", cfg.Logging.Level)

	m := config.InitializeMetrics(&cfg.Metrics)

	stack, err := config.Build(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("failed to build filesystem: %w", err)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("failed to close stores", logger.KeyError, err)
		}
	}()

	srv := server.New(stack.FS, cfg.Server.ShutdownTimeout)
	srv.AddTask(stack.Resolver)

	nfs, err := nfsadapter.New(nfsadapter.NFSConfig{
		Port:               cfg.Server.Port,
		MaxConnections:     cfg.Server.MaxConnections,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
		Export:             cfg.Server.MountPoint,
		Anonymous: nfsproto.AnonymousIdentity{
			UID: uint32(cfg.Identity.NobodyUID),
			GID: uint32(cfg.Identity.NobodyGID),
		},
	}, m.NFS)
	if err != nil {
		return fmt.Errorf("failed to create NFS adapter: %w", err)
	}
	if err := srv.AddAdapter(nfs); err != nil {
		return err
	}
	logger.Info("adapter enabled", "protocol", nfs.Protocol(), "port", cfg.Server.Port, logger.KeyPath, cfg.Server.MountPoint)

	if m.Enabled {
		if err := srv.AddAdapter(httpadapter.New(httpadapter.Config{Port: cfg.Metrics.Port})); err != nil {
			return err
		}
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics collection disabled")
	}

	logger.Info("server is running, press Ctrl+C to stop")
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
