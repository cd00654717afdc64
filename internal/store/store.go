// Package store is the destination connector: a table of sale records that
// supports atomic replacement of one partition at a time, plus the ingest
// log recording every partition attempt.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricepaid/internal/credential"
	"github.com/sells-group/pricepaid/internal/model"
)

// Drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Default table names per driver.
const (
	DefaultPostgresTable = "price_paid.house_sales"
	DefaultSQLiteTable   = "house_sales"
)

// RunFilter specifies criteria for listing ingest log entries.
type RunFilter struct {
	Partition model.PartitionKey `json:"partition,omitempty"`
	Status    model.RunStatus    `json:"status,omitempty"`
	Limit     int                `json:"limit,omitempty"`
}

// PartitionWriter loads the rows of one partition inside an open
// transaction. Nothing is visible to readers until Commit; Rollback
// restores the partition as it was before BeginPartition.
type PartitionWriter interface {
	// Write appends a batch. Every record must belong to the writer's partition.
	Write(ctx context.Context, recs []model.Record) error
	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback(ctx context.Context) error
	// Deleted is the number of rows the partition held before replacement.
	Deleted() int64
	// Written is the number of rows written so far.
	Written() int64
}

// RunLog records partition attempts.
type RunLog interface {
	StartRun(ctx context.Context, runID string, key model.PartitionKey) (*model.RunEntry, error)
	CompleteRun(ctx context.Context, id string, rows int64) error
	FailRun(ctx context.Context, id string, cause error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error)
}

// Table is a destination table partitioned by year of sale.
type Table interface {
	// Name is the fully qualified table name.
	Name() string

	// BeginPartition opens a transaction, locks the partition and deletes
	// its existing rows. The caller must Commit or Rollback the writer.
	BeginPartition(ctx context.Context, key model.PartitionKey) (PartitionWriter, error)

	// ScanPartition streams the rows of one partition ordered by id.
	ScanPartition(ctx context.Context, key model.PartitionKey, fn func(model.Record) error) error
	PartitionCounts(ctx context.Context) ([]model.PartitionCount, error)
	AveragePrices(ctx context.Context) ([]model.PriceSummary, error)

	RunLog

	Migrate(ctx context.Context) error
	Close() error
}

// Options configures Open.
type Options struct {
	Driver   string
	DSN      string
	Table    string // empty selects the driver default
	MaxConns int32
	MinConns int32
	Token    credential.Provider // postgres only; nil uses the DSN password
}

// NormalizeDriver maps driver aliases to DriverPostgres or DriverSQLite.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", eris.Errorf("store: unsupported destination driver %q (valid: postgres, sqlite)", driver)
	}
}

// Open connects to the configured destination.
func Open(ctx context.Context, opts Options) (Table, error) {
	driver, err := NormalizeDriver(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, eris.New("store: destination dsn is required")
	}

	switch driver {
	case DriverSQLite:
		return NewSQLite(opts.DSN, opts.Table)
	default:
		return NewPostgres(ctx, opts.DSN, opts.Table, &PoolConfig{
			MaxConns: opts.MaxConns,
			MinConns: opts.MinConns,
			Token:    opts.Token,
		})
	}
}

// logTableFor places the ingest log next to the data table, in the same schema.
func logTableFor(table string) string {
	if schema, _, ok := strings.Cut(table, "."); ok {
		return schema + ".ingest_log"
	}
	return "ingest_log"
}

// errorText flattens an error for the ingest log.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// wrongPartition reports a record that does not belong to the writer's partition.
func wrongPartition(r model.Record, key model.PartitionKey) error {
	return eris.Errorf("store: record %s belongs to partition %s, not %s", r.ID, r.PartitionKey(), key)
}
