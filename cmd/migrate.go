package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the destination schema",
	Long:  "Creates the destination table, its partition index and the ingest log if they do not exist.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		defer tbl.Close() //nolint:errcheck

		if err := tbl.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("destination schema applied", zap.String("table", tbl.Name()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
