package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2010-03-15 00:00", time.Date(2010, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"2011-12-01", time.Date(2011, 12, 1, 0, 0, 0, 0, time.UTC)},
		{" 2023-01-06 00:00 ", time.Date(2023, 1, 6, 0, 0, 0, 0, time.UTC)},
		{"2015-07-04T10:30:00Z", time.Date(2015, 7, 4, 10, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ParseDate("15/03/2010")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized date")
}

func TestRecord_PartitionKey(t *testing.T) {
	t.Parallel()

	r := Record{Date: time.Date(2012, 6, 30, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, PartitionKey(2012), r.PartitionKey())
}

func TestRecord_ValuesMatchTableColumns(t *testing.T) {
	t.Parallel()

	r := Record{ID: "{A}", Price: 250000, Date: time.Date(2010, 1, 2, 0, 0, 0, 0, time.UTC), PropertyType: "D"}
	vals := r.Values()
	cols := TableColumns()

	require.Len(t, vals, len(cols))
	assert.Equal(t, "{A}", vals[0])
	assert.Equal(t, int64(250000), vals[1])
	assert.Equal(t, "D", vals[4])
	assert.Equal(t, PartitionColumn, cols[len(cols)-1])
	assert.Equal(t, 2010, vals[len(vals)-1])
}

func TestTableColumns_DoesNotAliasColumns(t *testing.T) {
	t.Parallel()

	cols := TableColumns()
	cols[0] = "mutated"
	assert.Equal(t, "id", Columns[0])
}
