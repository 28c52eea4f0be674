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
	"github.com/congo-pay/agentpay/internal/logging"
	"github.com/congo-pay/agentpay/internal/tools"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the payment tools over stdio",
		Long: `Run the MCP server on stdin/stdout for a locally launched agent.
Logs go to stderr so they never corrupt the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conns, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer conns.close(logger)

			comps, err := bootstrap.Build(ctx, cfg, conns.db, conns.cache, logger)
			if err != nil {
				return fmt.Errorf("build payment core: %w", err)
			}
			defer comps.Close()

			server, err := tools.NewServer(comps.Payments, Version)
			if err != nil {
				return err
			}
			return tools.ServeStdio(ctx, server)
		},
	}
}
