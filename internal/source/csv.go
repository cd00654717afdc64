package source

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/pricepaid/internal/model"
)

// csvOptions configures the streaming CSV parser.
type csvOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
}

// streamCSV reads CSV rows and sends them to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func streamCSV(ctx context.Context, r io.Reader, opts csvOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // checked by the decoder

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// decodeReader wraps r with a decoder for the configured text encoding.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, eris.Errorf("source: unsupported encoding %q", encoding)
	}
}

// decodeCSVRecord maps a headerless 16-field row onto a Record.
func decodeCSVRecord(row []string) (model.Record, error) {
	if len(row) != len(model.Columns) {
		return model.Record{}, eris.Errorf("expected %d fields, got %d", len(model.Columns), len(row))
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	price, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return model.Record{}, eris.Errorf("invalid price %q", row[1])
	}
	date, err := model.ParseDate(row[2])
	if err != nil {
		return model.Record{}, err
	}

	return model.Record{
		ID:           row[0],
		Price:        price,
		Date:         date,
		Postcode:     row[3],
		PropertyType: row[4],
		OldNew:       row[5],
		Duration:     row[6],
		PAON:         row[7],
		SAON:         row[8],
		Street:       row[9],
		Locale:       row[10],
		TownCity:     row[11],
		District:     row[12],
		County:       row[13],
		PPDCategory:  row[14],
		RecordType:   row[15],
	}, nil
}

// scanCSV streams one CSV object, pushing matching records to fn.
func (s *Source) scanCSV(ctx context.Context, obj Object, f Filter, fn func(model.Record) error, st *Stats) error {
	rc, err := obj.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck

	r, err := decodeReader(rc, s.opts.Encoding)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := streamCSV(ctx, r, csvOptions{LazyQuotes: true})
	stop := func() {
		cancel()
		for range rowCh {
		}
	}

	line := 0
	for row := range rowCh {
		line++
		rec, err := decodeCSVRecord(row)
		if err != nil {
			stop()
			return eris.Wrapf(err, "source: %s line %d", obj.Name(), line)
		}
		st.RowsRead++
		if !f.Match(rec) {
			continue
		}
		st.RowsMatched++
		if err := fn(rec); err != nil {
			stop()
			return err
		}
	}

	if err := <-errCh; err != nil {
		return eris.Wrapf(err, "source: read %s", obj.Name())
	}
	return nil
}
