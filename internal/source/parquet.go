package source

import (
	"context"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricepaid/internal/model"
)

// defaultParquetChunk is the number of rows decoded per read call.
const defaultParquetChunk = 1024

// ParquetRow is the named-column Parquet layout for a sale record. Exports
// write it and the Parquet reader accepts it.
type ParquetRow struct {
	ID           string `parquet:"id"`
	Price        int64  `parquet:"price"`
	Date         string `parquet:"date"`
	Postcode     string `parquet:"postcode"`
	PropertyType string `parquet:"property_type"`
	OldNew       string `parquet:"old_new"`
	Duration     string `parquet:"duration"`
	PAON         string `parquet:"paon"`
	SAON         string `parquet:"saon"`
	Street       string `parquet:"street"`
	Locale       string `parquet:"locale"`
	TownCity     string `parquet:"town_city"`
	District     string `parquet:"district"`
	County       string `parquet:"county"`
	PPDCategory  string `parquet:"ppd_category"`
	RecordType   string `parquet:"record_type"`
	YearOfSale   int32  `parquet:"year_of_sale,optional"`
}

// NewParquetRow converts a record to its Parquet layout.
func NewParquetRow(r model.Record) ParquetRow {
	return ParquetRow{
		ID:           r.ID,
		Price:        r.Price,
		Date:         r.Date.Format(model.DateLayout),
		Postcode:     r.Postcode,
		PropertyType: r.PropertyType,
		OldNew:       r.OldNew,
		Duration:     r.Duration,
		PAON:         r.PAON,
		SAON:         r.SAON,
		Street:       r.Street,
		Locale:       r.Locale,
		TownCity:     r.TownCity,
		District:     r.District,
		County:       r.County,
		PPDCategory:  r.PPDCategory,
		RecordType:   r.RecordType,
		YearOfSale:   int32(r.PartitionKey()),
	}
}

// Record converts the Parquet layout back to a record. The partition key is
// always re-derived from the date.
func (p ParquetRow) Record() (model.Record, error) {
	date, err := model.ParseDate(p.Date)
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{
		ID:           p.ID,
		Price:        p.Price,
		Date:         date,
		Postcode:     p.Postcode,
		PropertyType: p.PropertyType,
		OldNew:       p.OldNew,
		Duration:     p.Duration,
		PAON:         p.PAON,
		SAON:         p.SAON,
		Street:       p.Street,
		Locale:       p.Locale,
		TownCity:     p.TownCity,
		District:     p.District,
		County:       p.County,
		PPDCategory:  p.PPDCategory,
		RecordType:   p.RecordType,
	}, nil
}

// scanParquet decodes one Parquet object chunk by chunk, pushing matching
// records to fn. At most one chunk of rows is held in memory.
func (s *Source) scanParquet(ctx context.Context, obj Object, f Filter, fn func(model.Record) error, st *Stats) error {
	localPath, cleanup, err := obj.LocalPath(ctx, s.opts.TempDir)
	if err != nil {
		return err
	}
	defer cleanup()

	file, err := os.Open(localPath)
	if err != nil {
		return eris.Wrapf(err, "source: open %s", obj.Name())
	}
	defer file.Close() //nolint:errcheck

	reader, err := openParquet(file)
	if err != nil {
		return eris.Wrapf(err, "source: open parquet %s", obj.Name())
	}
	defer reader.Close() //nolint:errcheck

	chunk := s.opts.ParquetChunk
	if chunk <= 0 {
		chunk = defaultParquetChunk
	}
	buf := make([]ParquetRow, chunk)

	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "source: context cancelled")
		}

		n, readErr := reader.Read(buf)
		for i := 0; i < n; i++ {
			rec, err := buf[i].Record()
			if err != nil {
				return eris.Wrapf(err, "source: %s row %d", obj.Name(), st.RowsRead+1)
			}
			st.RowsRead++
			if !f.Match(rec) {
				continue
			}
			st.RowsMatched++
			if err := fn(rec); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return eris.Wrapf(readErr, "source: read %s", obj.Name())
		}
	}
}

// openParquet validates the file footer before building a typed reader;
// parquet-go panics on schema conversion failures, which are reported here
// as errors instead.
func openParquet(file *os.File) (r *parquet.GenericReader[ParquetRow], err error) {
	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(file, fi.Size())
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r, err = nil, eris.Errorf("incompatible schema: %v", p)
		}
	}()
	return parquet.NewGenericReader[ParquetRow](pf), nil
}
