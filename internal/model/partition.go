package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// PartitionKey identifies a partition: the year of sale.
type PartitionKey int

// String returns the key as a decimal year.
func (k PartitionKey) String() string {
	return strconv.Itoa(int(k))
}

const (
	minYear = 1900
	maxYear = 2999
)

// ParsePartitionKey parses a single year.
func ParsePartitionKey(s string) (PartitionKey, error) {
	s = strings.TrimSpace(s)
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, eris.Errorf("model: invalid partition key %q", s)
	}
	if y < minYear || y > maxYear {
		return 0, eris.Errorf("model: partition key %d out of range (%d-%d)", y, minYear, maxYear)
	}
	return PartitionKey(y), nil
}

// ParsePartitionKeys parses a comma-separated list of years and inclusive
// year ranges, e.g. "2010,2012-2014". Order is preserved and duplicates are
// kept, so a repeated key is processed again.
func ParsePartitionKeys(s string) ([]PartitionKey, error) {
	var keys []PartitionKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			k, err := ParsePartitionKey(part)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			continue
		}

		from, err := ParsePartitionKey(lo)
		if err != nil {
			return nil, err
		}
		to, err := ParsePartitionKey(hi)
		if err != nil {
			return nil, err
		}
		if to < from {
			return nil, eris.Errorf("model: descending partition range %q", part)
		}
		for k := from; k <= to; k++ {
			keys = append(keys, k)
		}
	}

	if len(keys) == 0 {
		return nil, eris.New("model: no partition keys given")
	}
	return keys, nil
}
