// Package export writes destination partitions out as Parquet files that
// the source reader accepts again.
package export

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/model"
	"github.com/sells-group/pricepaid/internal/source"
)

// rowGroupChunk is the number of rows buffered per Write call.
const rowGroupChunk = 1024

// Scanner reads one partition of a destination table.
type Scanner interface {
	ScanPartition(ctx context.Context, key model.PartitionKey, fn func(model.Record) error) error
}

// Partition writes the rows of key to w as Parquet and returns the row count.
func Partition(ctx context.Context, tbl Scanner, key model.PartitionKey, w io.Writer) (int64, error) {
	pw := parquet.NewGenericWriter[source.ParquetRow](w,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata("partition", key.String()),
	)

	buf := make([]source.ParquetRow, 0, rowGroupChunk)
	var n int64
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := pw.Write(buf); err != nil {
			return eris.Wrap(err, "export: write rows")
		}
		n += int64(len(buf))
		buf = buf[:0]
		return nil
	}

	err := tbl.ScanPartition(ctx, key, func(r model.Record) error {
		buf = append(buf, source.NewParquetRow(r))
		if len(buf) == rowGroupChunk {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "export: scan partition %s", key)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if err := pw.Close(); err != nil {
		return 0, eris.Wrap(err, "export: close parquet writer")
	}
	return n, nil
}

// PartitionFile writes key to path atomically: the file only appears once
// the export is complete.
func PartitionFile(ctx context.Context, tbl Scanner, key model.PartitionKey, path string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.parquet")
	if err != nil {
		return 0, eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := Partition(ctx, tbl, key, tmp)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, eris.Wrap(err, "export: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, eris.Wrapf(err, "export: rename to %s", path)
	}

	zap.L().Info("partition exported",
		zap.String("component", "export"),
		zap.Stringer("partition", key),
		zap.String("path", path),
		zap.Int64("rows", n),
	)
	return n, nil
}
