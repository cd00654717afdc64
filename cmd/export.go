package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/export"
	"github.com/sells-group/pricepaid/internal/model"
)

var (
	exportPartition string
	exportOut       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write one partition to a Parquet file",
	Long:  "Writes every row of one partition to a Parquet file that the ingest command can read back as a source.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		key, err := model.ParsePartitionKey(exportPartition)
		if err != nil {
			return err
		}
		if err := cfg.Validate("export"); err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("pp-%s.parquet", key)
		}

		tbl, err := openMigratedTable(ctx)
		if err != nil {
			return err
		}
		defer tbl.Close() //nolint:errcheck

		n, err := export.PartitionFile(ctx, tbl, key, out)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		zap.L().Info("partition exported",
			zap.Stringer("partition", key),
			zap.String("path", out),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPartition, "partition", "", "year to export (required)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default pp-<year>.parquet)")
	_ = exportCmd.MarkFlagRequired("partition")
	rootCmd.AddCommand(exportCmd)
}
