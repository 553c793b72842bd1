// Package cli holds the command-line entry points: the HTTP server, one-off
// collector passes and local amount extraction.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/logger"
)

var version = "0.1.0"

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "payment-evidence",
	Short: "Collect and reconcile payment evidence against invoices",
	Long: `payment-evidence reads payment slips and bank credit notifications from
the company mailbox, extracts amounts from them and lets reviewers apply
them to invoices.

Configuration comes from the environment (and a .env file when present).`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Setup(loaded.GetLoggerConfig()); err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
