package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/congo-pay/agentpay/internal/config"
	"github.com/congo-pay/agentpay/internal/infra"
	"github.com/congo-pay/agentpay/internal/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the wallets and ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL must be set")
			}
			logger := logging.New(cfg.LogLevel)

			ctx := context.Background()
			db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := infra.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
