package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricepaid/internal/model"
	"github.com/sells-group/pricepaid/internal/store"
)

var (
	statusPartition string
	statusState     string
	statusLimit     int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ingest log",
	Long:  "Lists partition replacement attempts, newest first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		filter := store.RunFilter{
			Status: model.RunStatus(statusState),
			Limit:  statusLimit,
		}
		if statusPartition != "" {
			key, err := model.ParsePartitionKey(statusPartition)
			if err != nil {
				return err
			}
			filter.Partition = key
		}

		tbl, err := openMigratedTable(ctx)
		if err != nil {
			return err
		}
		defer tbl.Close() //nolint:errcheck

		entries, err := tbl.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No ingest runs found.")
			return nil
		}

		formatRunEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusPartition, "partition", "", "only show attempts for this year")
	statusCmd.Flags().StringVar(&statusState, "state", "", "filter by status (running, complete, failed)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "max number of entries to display")
	rootCmd.AddCommand(statusCmd)
}

// formatRunEntries writes a tabular representation of ingest log entries to w.
func formatRunEntries(out io.Writer, entries []model.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tPARTITION\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "---\t---------\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(e.RunID),
			e.Partition,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.Rows,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
