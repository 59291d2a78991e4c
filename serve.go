package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tubemux/api"
)

const lockName = ".tubemux.lock"

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	logger := svc.logger

	// One server per temp directory; the sweeper assumes it sees every job.
	lockPath := filepath.Join(svc.cfg.TempDir, lockName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another tubemux server is using %s", svc.cfg.TempDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release temp lock", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.SetupRouter(svc.jobs, svc.fetcher, svc.cfg, logger)
	srv := &http.Server{
		Addr:    ":" + svc.cfg.Port,
		Handler: router,
		// Request contexts end with ctx, which closes open event streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	svc.jobs.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", svc.cfg.Port, "output_dir", svc.cfg.OutputDir, "lock", lockPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	// Restore default behavior on the interrupt signal.
	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exiting")
	return nil
}
