package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/internal/config"
)

const shutdownTimeout = 10 * time.Second

var (
	watch bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Install the configured version and serve the app through the cache",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default from config)")
	serveCmd.Flags().String("origin", "", "app origin, e.g. https://app.example")
	serveCmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-install when the config file's manifest changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.File != "" {
		logger.Debug("using configuration file", "path", cfg.File)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	// without an active version the proxy passes requests to the network
	if _, err := a.reg.Update(ctx, cfg.Manifest); err != nil {
		logger.Error("install failed", "version", cfg.Manifest.Version, "error", err)
	}

	srv := a.server()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	if watch {
		if cfg.File == "" {
			logger.Warn("--watch needs a config file; not watching")
		} else {
			go func() {
				err := watchFile(ctx, cfg.File, logger, func(ctx context.Context) error {
					return reinstall(ctx, a.reg, cfg.File, logger)
				})
				if err != nil {
					logger.Error("config watch stopped", "error", err)
				}
			}()
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reinstall re-reads path and submits its manifest. A changed manifest under
// the same version tag is reported and ignored.
func reinstall(ctx context.Context, reg *offcache.Registration, path string, logger *log.Logger) error {
	v, err := config.NewViper(path)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	ctrl, err := reg.Update(ctx, cfg.Manifest)
	switch {
	case errors.Is(err, offcache.ErrVersionNotBumped):
		logger.Warn("manifest changed without a new version; ignored", "version", cfg.Manifest.Version)
		return nil
	case err != nil:
		return err
	}
	logger.Info("manifest applied", "version", ctrl.Version(), "state", ctrl.State())
	return nil
}
