package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/congo-pay/agentpay/internal/auth"
)

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [subject] [secret]",
		Short: "Print an AUTH_API_KEYS entry for an agent secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashSecret(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", args[0], hash)
			return nil
		},
	}
}
