//go:build !integration

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/config"
	"github.com/sells-group/pricepaid/internal/model"
	"github.com/sells-group/pricepaid/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testEnv is a source directory and a SQLite destination in a temp dir.
type testEnv struct {
	t   *testing.T
	dir string
	dsn string
}

// newTestEnv points the global cfg at a fresh SQLite file and source dir.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	env := &testEnv{t: t, dir: dir, dsn: filepath.Join(dir, "dest.db")}
	cfg = &config.Config{
		Source: config.SourceConfig{
			Pattern:  filepath.Join(dir, "src", "pp-*.csv"),
			Format:   "auto",
			Encoding: "utf-8",
			TempDir:  dir,
		},
		Destination: config.DestinationConfig{
			Driver: "sqlite",
			DSN:    env.dsn,
		},
		Pipeline: config.PipelineConfig{
			BatchSize:          2,
			OnDestinationError: "skip",
			MemoryLimitMB:      -1,
			RetryAttempts:      1,
		},
		Log: config.LogConfig{Level: "info", Format: "json"},
	}
	return env
}

func (e *testEnv) writeSource(name string, lines ...string) {
	e.t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	require.NoError(e.t, os.WriteFile(filepath.Join(e.dir, "src", name), []byte(body), 0o644))
}

func (e *testEnv) standardSource() {
	e.writeSource("pp-2010.csv",
		saleLine("A", 100000, "2010-01-10", "D"),
		saleLine("B", 200000, "2010-05-20", "S"),
		saleLine("C", 300000, "2010-11-30", "D"),
		saleLine("X", 999999, "2010-06-06", "O"),
	)
	e.writeSource("pp-2011.csv",
		saleLine("D", 150000, "2011-02-02", "F"),
		saleLine("E", 250000, "2011-08-08", "D"),
	)
}

// counts reads the destination's rows per partition.
func (e *testEnv) counts() map[model.PartitionKey]int64 {
	e.t.Helper()
	tbl, err := store.NewSQLite(e.dsn, "")
	require.NoError(e.t, err)
	defer tbl.Close() //nolint:errcheck
	require.NoError(e.t, tbl.Migrate(context.Background()))

	counts, err := tbl.PartitionCounts(context.Background())
	require.NoError(e.t, err)
	out := map[model.PartitionKey]int64{}
	for _, c := range counts {
		out[c.Partition] = c.Rows
	}
	return out
}

// saleLine renders one headerless price paid CSV row.
func saleLine(id string, price int, date, propertyType string) string {
	return fmt.Sprintf(`"{%s}","%d","%s 00:00","SW1A 2AA","%s","N","F","10","","DOWNING STREET","","LONDON","CITY OF WESTMINSTER","GREATER LONDON","A","A"`,
		id, price, date, propertyType)
}

// runIngestCmd runs the ingest command for partitions and returns its output.
func runIngestCmd(t *testing.T, partitions string) (string, error) {
	t.Helper()
	ingestPartitions = partitions
	t.Cleanup(func() {
		ingestPartitions = ""
		ingestSource = ""
	})

	var buf strings.Builder
	ingestCmd.SetOut(&buf)
	ingestCmd.SetContext(context.Background())
	defer ingestCmd.SetOut(nil)
	defer ingestCmd.SetContext(nil)

	err := ingestCmd.RunE(ingestCmd, nil)
	return buf.String(), err
}
