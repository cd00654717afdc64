package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/model"
	"github.com/sells-group/pricepaid/internal/source"
	"github.com/sells-group/pricepaid/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func loadedTable(t *testing.T, recs ...model.Record) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	tbl, err := store.NewSQLite(filepath.Join(t.TempDir(), "dest.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() }) //nolint:errcheck
	require.NoError(t, tbl.Migrate(ctx))

	byKey := map[model.PartitionKey][]model.Record{}
	for _, r := range recs {
		byKey[r.PartitionKey()] = append(byKey[r.PartitionKey()], r)
	}
	for key, rs := range byKey {
		w, err := tbl.BeginPartition(ctx, key)
		require.NoError(t, err)
		require.NoError(t, w.Write(ctx, rs))
		require.NoError(t, w.Commit(ctx))
	}
	return tbl
}

func TestPartitionFile_RoundTripsThroughSource(t *testing.T) {
	var recs []model.Record
	for i := range 2500 {
		recs = append(recs, model.Record{
			ID:           fmt.Sprintf("{%05d}", i),
			Price:        int64(100000 + i),
			Date:         time.Date(2014, time.Month(i%12+1), 1, 0, 0, 0, 0, time.UTC),
			PropertyType: []string{"D", "S", "T", "F"}[i%4],
			TownCity:     "YORK",
			RecordType:   "A",
		})
	}
	recs = append(recs, model.Record{ID: "{other-year}", Price: 1, Date: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)})
	tbl := loadedTable(t, recs...)

	out := filepath.Join(t.TempDir(), "pp-2014.parquet")
	n, err := PartitionFile(context.Background(), tbl, 2014, out)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)

	src, err := source.New(source.Options{Pattern: out})
	require.NoError(t, err)

	var got []model.Record
	_, err = src.Scan(context.Background(), source.Filter{Partition: 2014}, func(r model.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2500)
	for i := range got {
		assert.Equal(t, recs[i].ID, got[i].ID)
		assert.Equal(t, recs[i].Price, got[i].Price)
		assert.True(t, recs[i].Date.Equal(got[i].Date))
		assert.Equal(t, recs[i].PropertyType, got[i].PropertyType)
	}
}

func TestPartitionFile_EmptyPartition(t *testing.T) {
	tbl := loadedTable(t)
	out := filepath.Join(t.TempDir(), "empty.parquet")

	n, err := PartitionFile(context.Background(), tbl, 2020, out)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(out)
	assert.NoError(t, err)
}

type failingScanner struct{}

func (failingScanner) ScanPartition(context.Context, model.PartitionKey, func(model.Record) error) error {
	return errors.New("relation does not exist")
}

func TestPartitionFile_ScanErrorLeavesNoFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "broken.parquet")
	_, err := PartitionFile(context.Background(), failingScanner{}, 2010, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: scan partition 2010")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}
