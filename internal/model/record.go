package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Columns lists the source columns in file order. Headerless CSV sources
// carry exactly these fields.
var Columns = []string{
	"id",
	"price",
	"date",
	"postcode",
	"property_type",
	"old_new",
	"duration",
	"paon",
	"saon",
	"street",
	"locale",
	"town_city",
	"district",
	"county",
	"ppd_category",
	"record_type",
}

// PartitionColumn is the destination column holding the derived partition key.
const PartitionColumn = "year_of_sale"

// TableColumns lists the destination columns: the source columns followed
// by the partition column.
func TableColumns() []string {
	cols := make([]string, 0, len(Columns)+1)
	cols = append(cols, Columns...)
	return append(cols, PartitionColumn)
}

// dateLayouts are the accepted date encodings, tried in order.
var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// DateLayout is the canonical date encoding written back out by exports.
const DateLayout = "2006-01-02 15:04"

// Record is one property sale.
type Record struct {
	ID           string    `json:"id"`
	Price        int64     `json:"price"`
	Date         time.Time `json:"date"`
	Postcode     string    `json:"postcode"`
	PropertyType string    `json:"property_type"`
	OldNew       string    `json:"old_new"`
	Duration     string    `json:"duration"`
	PAON         string    `json:"paon"`
	SAON         string    `json:"saon"`
	Street       string    `json:"street"`
	Locale       string    `json:"locale"`
	TownCity     string    `json:"town_city"`
	District     string    `json:"district"`
	County       string    `json:"county"`
	PPDCategory  string    `json:"ppd_category"`
	RecordType   string    `json:"record_type"`
}

// PartitionKey derives the record's partition: its year of sale.
func (r Record) PartitionKey() PartitionKey {
	return PartitionKey(r.Date.Year())
}

// Values returns the record as destination column values, in TableColumns order.
func (r Record) Values() []any {
	return []any{
		r.ID,
		r.Price,
		r.Date,
		r.Postcode,
		r.PropertyType,
		r.OldNew,
		r.Duration,
		r.PAON,
		r.SAON,
		r.Street,
		r.Locale,
		r.TownCity,
		r.District,
		r.County,
		r.PPDCategory,
		r.RecordType,
		int(r.PartitionKey()),
	}
}

// ParseDate parses a sale date in any of the accepted layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("model: unrecognized date %q", s)
}
