package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// partitionLockClass namespaces advisory locks taken for partition writes so
// they cannot collide with the migration lock or other users of the database.
const partitionLockClass int32 = 7310

// LockPartition takes a transaction-scoped advisory lock on (table, key).
// Writers of the same partition serialize; writers of different partitions
// do not block each other. The lock is released on commit or rollback.
func LockPartition(ctx context.Context, tx Execer, table string, key int) error {
	_, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1), $2)",
		fmt.Sprintf("%d:%s", partitionLockClass, table), int32(key),
	)
	if err != nil {
		return eris.Wrapf(err, "db: lock partition %d of %s", key, table)
	}
	return nil
}

// DeletePartition removes every row of table whose column equals key and
// returns the number of rows removed.
func DeletePartition(ctx context.Context, tx Execer, table, column string, key int) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		SanitizeTable(table),
		pgx.Identifier{column}.Sanitize(),
	)
	tag, err := tx.Exec(ctx, sql, key)
	if err != nil {
		return 0, eris.Wrapf(err, "db: delete partition %d of %s", key, table)
	}
	return tag.RowsAffected(), nil
}

// Identifier splits a possibly schema-qualified table name into a pgx.Identifier.
func Identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// SanitizeTable quotes a schema-qualified table name like "price_paid.house_sales".
func SanitizeTable(table string) string {
	return Identifier(table).Sanitize()
}

// QuoteAndJoin quotes each column name and joins with commas.
func QuoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
