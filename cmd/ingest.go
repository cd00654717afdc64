package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/ingest"
	"github.com/sells-group/pricepaid/internal/model"
)

var (
	ingestPartitions string
	ingestSource     string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Replace destination partitions from the source files",
	Long: `Reads the source files once per requested year, drops excluded property
types, and replaces that year's partition of the destination table in a single
transaction. Partitions not named on the command line are never touched.`,
	Example: `  pricepaid ingest --partitions 2010,2011
  pricepaid ingest --partitions 2015-2020 --source 's3://land-registry/pp-*.csv'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		keys, err := model.ParsePartitionKeys(ingestPartitions)
		if err != nil {
			return err
		}
		if ingestSource != "" {
			cfg.Source.Pattern = ingestSource
		}
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		summary, err := runIngest(ctx, keys)
		if len(summary.Outcomes) > 0 {
			formatOutcomes(cmd.OutOrStdout(), summary.Outcomes)
		}
		return ingestResult(summary, len(keys), err)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPartitions, "partitions", "", "years to replace, e.g. 2010,2012-2014 (required)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source file pattern, overrides source.pattern")
	_ = ingestCmd.MarkFlagRequired("partitions")
	rootCmd.AddCommand(ingestCmd)
}

// runIngest wires the source, destination and pipeline and drains the run.
// Failures to build either end are reported with the same error types the
// pipeline uses for per-partition failures.
func runIngest(ctx context.Context, keys []model.PartitionKey) (ingest.Summary, error) {
	src, err := openSource()
	if err != nil {
		return ingest.Summary{}, &ingest.SourceReadError{Err: err}
	}

	tbl, err := openMigratedTable(ctx)
	if err != nil {
		return ingest.Summary{}, &ingest.DestinationWriteError{Err: err}
	}
	defer tbl.Close() //nolint:errcheck

	pcfg, err := pipelineConfig()
	if err != nil {
		return ingest.Summary{}, err
	}

	p, err := ingest.New(pcfg, src, tbl, tbl)
	if err != nil {
		return ingest.Summary{}, err
	}

	zap.L().Info("starting ingest",
		zap.String("source", src.Location().String()),
		zap.String("table", tbl.Name()),
		zap.Int("partitions", len(keys)),
	)
	return p.RunAll(ctx, keys)
}

// ingestResult turns a run into the command's error: the fatal error if the
// run stopped early, or a summary error when no partition succeeded.
func ingestResult(s ingest.Summary, requested int, fatal error) error {
	if fatal != nil {
		return fatal
	}
	if requested > 0 && s.Succeeded == 0 {
		return eris.Errorf("ingest: all %d partitions failed", s.Failed)
	}
	return nil
}

// formatOutcomes writes a tabular summary of partition outcomes to w.
func formatOutcomes(out io.Writer, outcomes []ingest.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PARTITION\tSTATUS\tROWS\tREPLACED\tREAD\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "---------\t------\t----\t--------\t----\t--------\t-----")

	for _, o := range outcomes {
		status := "ok"
		errMsg := ""
		if !o.OK() {
			status = "failed"
			errMsg = truncate(o.Err.Error(), 80)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			o.Key,
			status,
			o.Rows,
			o.Deleted,
			o.Read,
			o.Elapsed.Round(time.Millisecond),
			errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
