package cli

import (
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change stored application settings",
}

var settingsMailboxCmd = &cobra.Command{
	Use:   "mailbox [address]",
	Short: "Show or set the mailbox address the collector treats as ours",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := config.InitDB(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		svc := settings.NewService(db, cfg.Mailbox.SettingsTTL, cfg.Mailbox.Address)

		if len(args) == 1 {
			addr, err := mail.ParseAddress(args[0])
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[0], err)
			}
			if err := svc.SetMailboxAddress(cmd.Context(), addr.Address); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), svc.MailboxAddress(cmd.Context()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsMailboxCmd)
}
