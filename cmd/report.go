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

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Average sale price by year and property type",
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

		rows, err := tbl.AveragePrices(ctx)
		if err != nil {
			return eris.Wrap(err, "report")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No sales loaded.")
			return nil
		}

		formatPriceSummaries(cmd.OutOrStdout(), rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

// propertyTypeNames maps the single-letter property type codes to labels.
var propertyTypeNames = map[string]string{
	"D": "detached",
	"S": "semi-detached",
	"T": "terraced",
	"F": "flat/maisonette",
	"O": "other",
}

func propertyTypeLabel(code string) string {
	if name, ok := propertyTypeNames[code]; ok {
		return code + " (" + name + ")"
	}
	return code
}

// formatPriceSummaries writes average prices per year and property type to w.
func formatPriceSummaries(out io.Writer, rows []model.PriceSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "YEAR\tPROPERTY TYPE\tSALES\tAVERAGE PRICE")
	_, _ = fmt.Fprintln(w, "----\t-------------\t-----\t-------------")

	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.0f\n",
			r.Partition,
			propertyTypeLabel(r.PropertyType),
			r.Sales,
			r.AveragePrice,
		)
	}
	_ = w.Flush()
}
