package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeletePartition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM "price_paid"."house_sales" WHERE "year_of_sale" = \$1`).
		WithArgs(2010).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := DeletePartition(context.Background(), mock, "price_paid.house_sales", "year_of_sale", 2010)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePartition_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM").
		WithArgs(2011).
		WillReturnError(errors.New("relation does not exist"))

	_, err = DeletePartition(context.Background(), mock, "house_sales", "year_of_sale", 2011)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete partition 2011 of house_sales")
}

func TestLockPartition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs("7310:price_paid.house_sales", int32(2012)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, LockPartition(context.Background(), mock, "price_paid.house_sales", 2012))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"price_paid.house_sales", `"price_paid"."house_sales"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "price", "date"`, QuoteAndJoin([]string{"id", "price", "date"}))
}
