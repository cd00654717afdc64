package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricepaid/internal/db"
	"github.com/sells-group/pricepaid/internal/model"
)

// sqliteDateLayout is how sale dates are stored in SQLite text columns.
const sqliteDateLayout = "2006-01-02 15:04:05"

// SQLiteStore implements Table using modernc.org/sqlite.
type SQLiteStore struct {
	db       *sql.DB
	table    string
	logTable string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, table string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if table == "" {
		table = DefaultSQLiteTable
	}
	return &SQLiteStore{db: sqlDB, table: table, logTable: logTableFor(table)}, nil
}

func (s *SQLiteStore) Name() string {
	return s.table
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration(s.table, s.logTable))
	return eris.Wrap(err, "sqlite: migrate")
}

// sqliteMigration builds the DDL. SQLite qualifies index names, not the
// indexed table, with the schema of an attached database.
func sqliteMigration(table, logTable string) string {
	schema := schemaOf(table)
	bare := strings.TrimPrefix(table, schema)
	bareLog := strings.TrimPrefix(logTable, schema)
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT NOT NULL,
	price         INTEGER NOT NULL,
	date          TEXT NOT NULL,
	postcode      TEXT NOT NULL DEFAULT '',
	property_type TEXT NOT NULL DEFAULT '',
	old_new       TEXT NOT NULL DEFAULT '',
	duration      TEXT NOT NULL DEFAULT '',
	paon          TEXT NOT NULL DEFAULT '',
	saon          TEXT NOT NULL DEFAULT '',
	street        TEXT NOT NULL DEFAULT '',
	locale        TEXT NOT NULL DEFAULT '',
	town_city     TEXT NOT NULL DEFAULT '',
	district      TEXT NOT NULL DEFAULT '',
	county        TEXT NOT NULL DEFAULT '',
	ppd_category  TEXT NOT NULL DEFAULT '',
	record_type   TEXT NOT NULL DEFAULT '',
	year_of_sale  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[3]s (year_of_sale);

CREATE TABLE IF NOT EXISTS %[4]s (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	partition_key INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	row_count     INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS %[5]s ON %[6]s (partition_key, started_at);
`,
		db.SanitizeTable(table),
		db.SanitizeTable(schema+"idx_"+bare+"_year_of_sale"),
		db.SanitizeTable(bare),
		db.SanitizeTable(logTable),
		db.SanitizeTable(schema+"idx_ingest_log_partition"),
		db.SanitizeTable(bareLog),
	)
}

// schemaOf returns the "schema." prefix of a qualified name, or "".
func schemaOf(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i+1]
	}
	return ""
}

// BeginPartition implements Table. SQLite takes the database write lock at
// the DELETE, so writers of any partition serialize.
func (s *SQLiteStore) BeginPartition(ctx context.Context, key model.PartitionKey) (PartitionWriter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: begin partition %s", key)
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE year_of_sale = ?`, db.SanitizeTable(s.table)),
		int(key),
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, eris.Wrapf(err, "sqlite: delete partition %s of %s", key, s.table)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}

	return &sqlitePartitionWriter{tx: tx, table: s.table, key: key, deleted: deleted}, nil
}

type sqlitePartitionWriter struct {
	tx      *sql.Tx
	stmt    *sql.Stmt
	table   string
	key     model.PartitionKey
	deleted int64
	written int64
	done    bool
}

func (w *sqlitePartitionWriter) Write(ctx context.Context, recs []model.Record) error {
	if w.stmt == nil {
		cols := model.TableColumns()
		stmt, err := w.tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?%s)`,
			db.SanitizeTable(w.table), db.QuoteAndJoin(cols), strings.Repeat(", ?", len(cols)-1)))
		if err != nil {
			return eris.Wrapf(err, "sqlite: prepare insert into %s", w.table)
		}
		w.stmt = stmt
	}

	for _, r := range recs {
		if r.PartitionKey() != w.key {
			return wrongPartition(r, w.key)
		}
		vals := r.Values()
		vals[2] = r.Date.UTC().Format(sqliteDateLayout)
		if _, err := w.stmt.ExecContext(ctx, vals...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s into %s", r.ID, w.table)
		}
		w.written++
	}
	return nil
}

func (w *sqlitePartitionWriter) Commit(_ context.Context) error {
	w.closeStmt()
	if err := w.tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit partition %s", w.key)
	}
	w.done = true
	return nil
}

func (w *sqlitePartitionWriter) Rollback(_ context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	w.closeStmt()
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return eris.Wrapf(err, "sqlite: rollback partition %s", w.key)
	}
	return nil
}

func (w *sqlitePartitionWriter) closeStmt() {
	if w.stmt != nil {
		_ = w.stmt.Close()
		w.stmt = nil
	}
}

func (w *sqlitePartitionWriter) Deleted() int64 { return w.deleted }
func (w *sqlitePartitionWriter) Written() int64 { return w.written }

func (s *SQLiteStore) ScanPartition(ctx context.Context, key model.PartitionKey, fn func(model.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE year_of_sale = ? ORDER BY id`,
			db.QuoteAndJoin(model.Columns), db.SanitizeTable(s.table)),
		int(key),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: scan partition %s", key)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			r    model.Record
			date string
		)
		dest := recordFields(&r)
		dest[2] = &date
		if err := rows.Scan(dest...); err != nil {
			return eris.Wrap(err, "sqlite: scan record")
		}
		if r.Date, err = model.ParseDate(date); err != nil {
			return eris.Wrapf(err, "sqlite: record %s", r.ID)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: scan partition iterate")
}

func (s *SQLiteStore) PartitionCounts(ctx context.Context) ([]model.PartitionCount, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT year_of_sale, COUNT(*) FROM %s GROUP BY year_of_sale ORDER BY year_of_sale`,
		db.SanitizeTable(s.table)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: partition counts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PartitionCount
	for rows.Next() {
		var year int
		var n int64
		if err := rows.Scan(&year, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan partition count")
		}
		out = append(out, model.PartitionCount{Partition: model.PartitionKey(year), Rows: n})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: partition counts iterate")
}

func (s *SQLiteStore) AveragePrices(ctx context.Context) ([]model.PriceSummary, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT year_of_sale, property_type, AVG(price), COUNT(*) FROM %s
		 GROUP BY year_of_sale, property_type ORDER BY year_of_sale, property_type`,
		db.SanitizeTable(s.table)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: average prices")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PriceSummary
	for rows.Next() {
		var (
			year int
			ps   model.PriceSummary
		)
		if err := rows.Scan(&year, &ps.PropertyType, &ps.AveragePrice, &ps.Sales); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan average price")
		}
		ps.Partition = model.PartitionKey(year)
		out = append(out, ps)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: average prices iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, runID string, key model.PartitionKey) (*model.RunEntry, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, run_id, table_name, partition_key, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		db.SanitizeTable(s.logTable)),
		id, runID, s.table, int(key), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start run for partition %s", key)
	}

	return &model.RunEntry{
		ID:        id,
		RunID:     runID,
		Partition: key,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, rows int64) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, completed_at = ?, row_count = ? WHERE id = ?`,
		db.SanitizeTable(s.logTable)),
		string(model.RunStatusComplete), time.Now().UTC(), rows, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(res, "ingest log entry", id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, cause error) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		db.SanitizeTable(s.logTable)),
		string(model.RunStatusFailed), time.Now().UTC(), errorText(cause), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return checkRowsAffected(res, "ingest log entry", id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error) {
	query := fmt.Sprintf(
		`SELECT id, run_id, partition_key, status, started_at, completed_at, row_count, error FROM %s WHERE table_name = ?`,
		db.SanitizeTable(s.logTable))
	args := []any{s.table}

	if filter.Partition != 0 {
		query += ` AND partition_key = ?`
		args = append(args, int(filter.Partition))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e         model.RunEntry
			year      int
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.RunID, &year, &status, &e.StartedAt, &completed, &e.Rows, &e.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		e.Partition = model.PartitionKey(year)
		e.Status = model.RunStatus(status)
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
