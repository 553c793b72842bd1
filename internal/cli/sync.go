package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/services/collector"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a collector pass over the mailbox once",
	Long: `Run a collector pass outside the HTTP server, for example from cron.

The pass report is printed as JSON. A pass that stops early still prints
how many items it collected and exits non-zero.`,
}

var syncSlipsCmd = &cobra.Command{
	Use:   "slips",
	Short: "Collect payment slips attached to invoice replies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, (*collector.Collector).SyncSlips)
	},
}

var syncBankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Collect bank credit notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, (*collector.Collector).SyncBankCredits)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncSlipsCmd)
	syncCmd.AddCommand(syncBankCmd)
	syncCmd.PersistentFlags().Duration("timeout", 10*time.Minute, "Upper bound for the whole pass")
}

func runSync(cmd *cobra.Command, pass func(*collector.Collector, context.Context) (collector.Report, error)) error {
	log := logger.WithComponent("sync")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resources")
		}
	}()

	report, passErr := pass(a.collector, ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	return passErr
}
