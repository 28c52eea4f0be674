package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/congo-pay/agentpay/internal/bootstrap"
	"github.com/congo-pay/agentpay/internal/config"
	"github.com/congo-pay/agentpay/internal/infra"
	"github.com/congo-pay/agentpay/internal/logging"
	"github.com/congo-pay/agentpay/internal/server"
	"github.com/congo-pay/agentpay/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and MCP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")
	return cmd
}

func runServe(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.AppName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	conns, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conns.close(logger)

	if migrate && conns.db != nil {
		if err := infra.Migrate(ctx, conns.db); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	comps, err := bootstrap.Build(ctx, cfg, conns.db, conns.cache, logger)
	if err != nil {
		return fmt.Errorf("build payment core: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Warn("close components", "error", err)
		}
	}()

	srv, err := server.New(cfg, conns.db, conns.cache, comps, Version, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server exited cleanly")
	return nil
}
