package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/app"
	"github.com/michaelbrown/pyrunner/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PyRunner HTTP server",
	Long: `Start the PyRunner HTTP server.

Endpoints:
  POST /run      execute code
  GET  /         service descriptor
  GET  /health   liveness
  GET  /metrics  Prometheus metrics
  GET  /ws       WebSocket runner

Examples:
  pyrunner serve
  pyrunner serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Preload: true, ProcessMetrics: true})
	if err != nil {
		return fmt.Errorf("starting: %w", err)
	}

	srv := server.New(cfg.Server, a.Service, server.Info{
		Version:   version,
		Libraries: a.Libraries,
	}, a.Registry, a.Metrics, logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("shutdown did not complete", zap.Error(err))
	}
	return <-errc
}
