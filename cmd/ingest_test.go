//go:build !integration

package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricepaid/internal/ingest"
	"github.com/sells-group/pricepaid/internal/model"
)

func TestIngestCmd_ReplacesPartitions(t *testing.T) {
	env := newTestEnv(t)
	env.standardSource()

	out, err := runIngestCmd(t, "2010,2011")
	require.NoError(t, err)

	assert.Contains(t, out, "PARTITION")
	assert.Contains(t, out, "2010")
	assert.Contains(t, out, "2011")
	assert.NotContains(t, out, "failed")
	assert.Equal(t, map[model.PartitionKey]int64{2010: 3, 2011: 2}, env.counts())
}

func TestIngestCmd_Rerun(t *testing.T) {
	env := newTestEnv(t)
	env.standardSource()

	_, err := runIngestCmd(t, "2010-2011")
	require.NoError(t, err)

	env.writeSource("pp-2010.csv",
		saleLine("A", 100000, "2010-01-10", "D"),
		saleLine("Z", 120000, "2010-02-14", "T"),
	)
	_, err = runIngestCmd(t, "2010")
	require.NoError(t, err)

	assert.Equal(t, map[model.PartitionKey]int64{2010: 2, 2011: 2}, env.counts())
}

func TestIngestCmd_SourceFlagOverridesConfig(t *testing.T) {
	env := newTestEnv(t)
	env.standardSource()
	cfg.Source.Pattern = ""
	ingestSource = env.dir + "/src/pp-2011.csv"

	_, err := runIngestCmd(t, "2011")
	require.NoError(t, err)
	assert.Equal(t, map[model.PartitionKey]int64{2011: 2}, env.counts())
}

func TestIngestCmd_MissingSourceFails(t *testing.T) {
	env := newTestEnv(t)

	out, err := runIngestCmd(t, "2010")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 1 partitions failed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "no files match")
	assert.Empty(t, env.counts())
}

func TestIngestCmd_MalformedFileFailsEveryPartition(t *testing.T) {
	env := newTestEnv(t)
	env.writeSource("pp-2010.csv", saleLine("A", 100000, "2010-01-10", "D"))
	env.writeSource("pp-bad.csv", `"{B}","not-a-price"`)

	// Every partition reads every file, so both fail on the malformed file.
	out, err := runIngestCmd(t, "2010,2011")
	require.Error(t, err)
	assert.Contains(t, out, "failed")
	assert.Empty(t, env.counts())
}

func TestIngestCmd_InvalidPartitions(t *testing.T) {
	newTestEnv(t)

	_, err := runIngestCmd(t, "twenty-ten")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid partition key")
}

func TestIngestCmd_RequiresSourcePattern(t *testing.T) {
	newTestEnv(t)
	cfg.Source.Pattern = ""

	_, err := runIngestCmd(t, "2010")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.pattern is required")
}

func TestIngestCmd_UnsupportedSchemeIsSourceError(t *testing.T) {
	newTestEnv(t)
	cfg.Source.Pattern = "ftp://example.com/pp-*.csv"

	_, err := runIngestCmd(t, "2010")
	require.Error(t, err)

	var srcErr *ingest.SourceReadError
	assert.True(t, errors.As(err, &srcErr), "got %T", err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestIngestCmd_UnsupportedDriverIsDestinationError(t *testing.T) {
	env := newTestEnv(t)
	env.standardSource()
	cfg.Destination.Driver = "oracle"

	_, err := runIngestCmd(t, "2010")
	require.Error(t, err)

	var dstErr *ingest.DestinationWriteError
	assert.True(t, errors.As(err, &dstErr), "got %T", err)
	assert.Contains(t, err.Error(), "unsupported destination driver")
}

func TestIngestCmd_Flags(t *testing.T) {
	flag := ingestCmd.Flags().Lookup("partitions")
	require.NotNil(t, flag, "ingest command should have --partitions flag")

	flag = ingestCmd.Flags().Lookup("source")
	require.NotNil(t, flag, "ingest command should have --source flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestIngestResult(t *testing.T) {
	fatal := &ingest.MemoryExhaustionError{Partition: 2010, RSSBytes: 2 << 30, LimitBytes: 1 << 30}

	tests := []struct {
		name    string
		summary ingest.Summary
		fatal   error
		wantErr string
	}{
		{"all ok", ingest.Summary{Succeeded: 2}, nil, ""},
		{"some failed", ingest.Summary{Succeeded: 1, Failed: 1}, nil, ""},
		{"all failed", ingest.Summary{Failed: 3}, nil, "all 3 partitions failed"},
		{"fatal wins", ingest.Summary{Succeeded: 1, Failed: 1}, fatal, "memory exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ingestResult(tt.summary, tt.summary.Succeeded+tt.summary.Failed, tt.fatal)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormatOutcomes(t *testing.T) {
	outcomes := []ingest.Outcome{
		{Key: 2010, Rows: 3, Deleted: 5, Read: 9, Elapsed: 1500 * time.Millisecond},
		{Key: 2011, Read: 4, Err: &ingest.SourceReadError{Partition: 2011, Err: errors.New("no files match /data/pp-*.csv")}},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)

	output := buf.String()
	assert.Contains(t, output, "PARTITION")
	assert.Contains(t, output, "REPLACED")
	assert.Contains(t, output, "2010")
	assert.Contains(t, output, "ok")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "2011")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "source read failed for partition 2011")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
