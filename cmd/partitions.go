package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricepaid/internal/model"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Show row counts per partition",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		tbl, err := openMigratedTable(ctx)
		if err != nil {
			return err
		}
		defer tbl.Close() //nolint:errcheck

		counts, err := tbl.PartitionCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "partitions")
		}

		if len(counts) == 0 {
			fmt.Fprintln(os.Stderr, "No partitions loaded.")
			return nil
		}

		formatPartitionCounts(cmd.OutOrStdout(), counts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
}

// formatPartitionCounts writes row counts per partition and a total to w.
func formatPartitionCounts(out io.Writer, counts []model.PartitionCount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(w, "PARTITION\tROWS\t")

	var total int64
	for _, c := range counts {
		total += c.Rows
		_, _ = fmt.Fprintf(w, "%s\t%d\t\n", c.Partition, c.Rows)
	}
	_, _ = fmt.Fprintf(w, "total\t%d\t\n", total)
	_ = w.Flush()
}
