package main

import (
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/bankops/internal/config"
	"github.com/punchamoorthee/bankops/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()
			if err := store.Migrate(cfg.DBSource); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
