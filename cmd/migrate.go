package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saas-radar/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(store.Store) error {
			zap.L().Info("migrate: schema up to date", zap.String("driver", cfg.Store.Driver))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
