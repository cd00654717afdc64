package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/credential"
	"github.com/sells-group/pricepaid/internal/db"
	"github.com/sells-group/pricepaid/internal/model"
)

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID int64 = 7309

// PostgresStore implements Table using pgxpool.
type PostgresStore struct {
	pool     db.Pool
	closeFn  func()
	table    string
	logTable string
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`

	// Token, when set, supplies the password for every new connection.
	Token credential.Provider `yaml:"-" mapstructure:"-"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, table string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	if poolCfg != nil && poolCfg.Token != nil {
		pgxCfg.BeforeConnect = tokenAuth(poolCfg.Token)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := newPostgresStore(pool, table)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool, table string) *PostgresStore {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresStore{pool: pool, table: table, logTable: logTableFor(table)}
}

// tokenAuth fetches a fresh token as the password of each new connection.
func tokenAuth(p credential.Provider) func(context.Context, *pgx.ConnConfig) error {
	return func(ctx context.Context, cc *pgx.ConnConfig) error {
		token, err := p.Token(ctx)
		if err != nil {
			return eris.Wrap(err, "postgres: fetch access token")
		}
		cc.Password = token
		return nil
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Name() string {
	return s.table
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate creates the schema, data table and ingest log if missing. It
// holds a session advisory lock so overlapping deploys do not race.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, postgresMigration(s.table, s.logTable)); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	log.Info("schema ready", zap.String("table", s.table))
	return nil
}

func postgresMigration(table, logTable string) string {
	var b strings.Builder
	if schema, _, ok := strings.Cut(table, "."); ok {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", pgx.Identifier{schema}.Sanitize())
	}
	bare := strings.TrimPrefix(table, schemaOf(table))

	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
	id           TEXT NOT NULL,
	price        BIGINT NOT NULL,
	date         TIMESTAMP NOT NULL,
	postcode     TEXT NOT NULL DEFAULT '',
	property_type TEXT NOT NULL DEFAULT '',
	old_new      TEXT NOT NULL DEFAULT '',
	duration     TEXT NOT NULL DEFAULT '',
	paon         TEXT NOT NULL DEFAULT '',
	saon         TEXT NOT NULL DEFAULT '',
	street       TEXT NOT NULL DEFAULT '',
	locale       TEXT NOT NULL DEFAULT '',
	town_city    TEXT NOT NULL DEFAULT '',
	district     TEXT NOT NULL DEFAULT '',
	county       TEXT NOT NULL DEFAULT '',
	ppd_category TEXT NOT NULL DEFAULT '',
	record_type  TEXT NOT NULL DEFAULT '',
	year_of_sale INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (year_of_sale);

CREATE TABLE IF NOT EXISTS %[3]s (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	partition_key INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	row_count     BIGINT NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingest_log_partition ON %[3]s (partition_key, started_at DESC);
`, db.SanitizeTable(table), pgx.Identifier{"idx_" + bare + "_year_of_sale"}.Sanitize(), db.SanitizeTable(logTable))
	return b.String()
}

// BeginPartition implements Table.
func (s *PostgresStore) BeginPartition(ctx context.Context, key model.PartitionKey) (PartitionWriter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: begin partition %s", key)
	}

	if err := db.LockPartition(ctx, tx, s.table, int(key)); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	deleted, err := db.DeletePartition(ctx, tx, s.table, model.PartitionColumn, int(key))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	return &pgPartitionWriter{tx: tx, table: s.table, key: key, deleted: deleted}, nil
}

type pgPartitionWriter struct {
	tx      pgx.Tx
	table   string
	key     model.PartitionKey
	deleted int64
	written int64
	done    bool
}

func (w *pgPartitionWriter) Write(ctx context.Context, recs []model.Record) error {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		if r.PartitionKey() != w.key {
			return wrongPartition(r, w.key)
		}
		rows[i] = r.Values()
	}
	n, err := db.CopyFrom(ctx, w.tx, w.table, model.TableColumns(), rows)
	if err != nil {
		return err
	}
	w.written += n
	return nil
}

func (w *pgPartitionWriter) Commit(ctx context.Context) error {
	if err := w.tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit partition %s", w.key)
	}
	w.done = true
	return nil
}

func (w *pgPartitionWriter) Rollback(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrapf(err, "postgres: rollback partition %s", w.key)
	}
	return nil
}

func (w *pgPartitionWriter) Deleted() int64 { return w.deleted }
func (w *pgPartitionWriter) Written() int64 { return w.written }

func (s *PostgresStore) ScanPartition(ctx context.Context, key model.PartitionKey, fn func(model.Record) error) error {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE year_of_sale = $1 ORDER BY id`,
		db.QuoteAndJoin(model.Columns), db.SanitizeTable(s.table))

	rows, err := s.pool.Query(ctx, query, int(key))
	if err != nil {
		return eris.Wrapf(err, "postgres: scan partition %s", key)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Record
		if err := rows.Scan(recordFields(&r)...); err != nil {
			return eris.Wrap(err, "postgres: scan record")
		}
		r.Date = r.Date.UTC()
		if err := fn(r); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: scan partition iterate")
}

func (s *PostgresStore) PartitionCounts(ctx context.Context) ([]model.PartitionCount, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT year_of_sale, COUNT(*) FROM %s GROUP BY year_of_sale ORDER BY year_of_sale`,
		db.SanitizeTable(s.table)))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: partition counts")
	}
	defer rows.Close()

	var out []model.PartitionCount
	for rows.Next() {
		var year int
		var n int64
		if err := rows.Scan(&year, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan partition count")
		}
		out = append(out, model.PartitionCount{Partition: model.PartitionKey(year), Rows: n})
	}
	return out, eris.Wrap(rows.Err(), "postgres: partition counts iterate")
}

func (s *PostgresStore) AveragePrices(ctx context.Context) ([]model.PriceSummary, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT year_of_sale, property_type, AVG(price)::float8, COUNT(*) FROM %s
		 GROUP BY year_of_sale, property_type ORDER BY year_of_sale, property_type`,
		db.SanitizeTable(s.table)))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: average prices")
	}
	defer rows.Close()

	var out []model.PriceSummary
	for rows.Next() {
		var (
			year int
			ps   model.PriceSummary
		)
		if err := rows.Scan(&year, &ps.PropertyType, &ps.AveragePrice, &ps.Sales); err != nil {
			return nil, eris.Wrap(err, "postgres: scan average price")
		}
		ps.Partition = model.PartitionKey(year)
		out = append(out, ps)
	}
	return out, eris.Wrap(rows.Err(), "postgres: average prices iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, runID string, key model.PartitionKey) (*model.RunEntry, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, run_id, table_name, partition_key, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		db.SanitizeTable(s.logTable)),
		id, runID, s.table, int(key), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start run for partition %s", key)
	}

	return &model.RunEntry{
		ID:        id,
		RunID:     runID,
		Partition: key,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, rows int64) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = $1, completed_at = $2, row_count = $3 WHERE id = $4`,
		db.SanitizeTable(s.logTable)),
		string(model.RunStatusComplete), time.Now().UTC(), rows, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest log entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, cause error) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		db.SanitizeTable(s.logTable)),
		string(model.RunStatusFailed), time.Now().UTC(), errorText(cause), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest log entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error) {
	query := fmt.Sprintf(
		`SELECT id, run_id, partition_key, status, started_at, completed_at, row_count, error FROM %s WHERE table_name = $1`,
		db.SanitizeTable(s.logTable))
	args := []any{s.table}
	argIdx := 2

	if filter.Partition != 0 {
		query += fmt.Sprintf(` AND partition_key = $%d`, argIdx)
		args = append(args, int(filter.Partition))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e    model.RunEntry
			year int
		)
		if err := rows.Scan(&e.ID, &e.RunID, &year, &e.Status, &e.StartedAt, &e.CompletedAt, &e.Rows, &e.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		e.Partition = model.PartitionKey(year)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// recordFields returns scan destinations for model.Columns.
func recordFields(r *model.Record) []any {
	return []any{
		&r.ID, &r.Price, &r.Date, &r.Postcode, &r.PropertyType, &r.OldNew,
		&r.Duration, &r.PAON, &r.SAON, &r.Street, &r.Locale, &r.TownCity,
		&r.District, &r.County, &r.PPDCategory, &r.RecordType,
	}
}
