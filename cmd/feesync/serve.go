package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/feesync/internal/adapter/driving/http"
	"github.com/ericfisherdev/feesync/internal/application"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled syncs",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides FEESYNC_LISTEN_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.ListenAddr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}

	if a.cfg.AutoSyncInterval > 0 && len(a.cfg.AutoSyncOrganizers) == 0 {
		slog.Warn("auto sync interval set but FEESYNC_AUTO_SYNC_ORGANIZERS is empty")
	}

	// The scheduler also serializes writing syncs from the API, so it runs
	// even when periodic syncs are off.
	autoSync := application.NewAutoSyncService(a.syncSvc, a.cfg.AutoSyncOrganizers, a.cfg.AutoSyncInterval)
	syncCtx, stopSync := context.WithCancel(ctx)
	autoSyncDone := make(chan struct{})
	go func() {
		autoSync.Start(syncCtx)
		close(autoSyncDone)
	}()
	// Runs before the deferred Close so no sync writes to a closed database.
	defer func() {
		stopSync()
		<-autoSyncDone
	}()

	apiHandler := httphandler.NewHandler(a.syncSvc, autoSync, a.payments, a.registry, slog.Default())

	srv := &http.Server{
		Addr:              addr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// A sync request runs the whole pipeline before answering.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("feesync started",
		"listen_addr", addr,
		"providers", a.registry.Providers(),
		"auto_sync_interval", a.cfg.AutoSyncInterval,
		"cache_ttl", a.cfg.CacheTTL,
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
