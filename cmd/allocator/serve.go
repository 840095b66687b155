package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/logger"
	"github.com/warp/allocation-engine/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var demoScenario string

func init() {
	serveCmd.Flags().StringVar(&demoScenario, "scenario", "balanced-two-city", "scenario loaded at startup when server.demo is set")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New("server")

	store, closeStore, err := openBackend(cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(log, "store", closeStore)

	locker, closeLocker, err := openLocker(ctx, cfg.Merge)
	if err != nil {
		return err
	}
	defer closeWith(log, "locker", closeLocker)

	var rec allocation.Recorder
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom, err := metrics.NewPromRecorder()
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		rec = prom
		metricsHandler = promhttp.Handler()
	}

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Locker:     locker,
		Options:    cfg.Allocation.Options(),
		Reconciler: cfg.Merge.ReconcilerOptions(),
		Logger:     logger.New("api"),
		Recorder:   rec,
	})
	if cfg.Server.Demo {
		if err := api.LoadScenarioInto(ctx, store, handler.Factory, demoScenario); err != nil {
			return fmt.Errorf("load demo scenario: %w", err)
		}
		log.Infof("demo scenario %s loaded", demoScenario)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        metricsHandler,
			MetricsPath:    cfg.Metrics.Path,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (store=%s, lock=%s)", cfg.Server.Addr, cfg.Database.Driver, cfg.Merge.LockBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Infof("server stopped")
	return nil
}
