package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"precedent/internal/config"
	"precedent/internal/httpapi"
	"precedent/internal/lexicon"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP search service",
	Long: `Starts the HTTP surface: POST /api/search, /api/search/plan and
/api/search/finalize, health probes under /api/health, and the Prometheus
scrape route at /metrics.

With --lexicon the overlay file is watched and re-merged on change. Shuts
down gracefully on SIGINT/SIGTERM, draining in-flight requests.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if lexiconOverlay != "" {
		w, err := lexicon.NewWatcher(lexiconOverlay, lexicon.Default(), a.holder, logger)
		if err != nil {
			return fmt.Errorf("watch lexicon overlay: %w", err)
		}
		w.Start(ctx)
		defer w.Close()
	}

	api := httpapi.NewServer(cfg, a.engine, a.shared, a.pinger, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down, draining requests")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
