// Package source reads sale records from CSV and Parquet files on the local
// filesystem or S3, pushing the partition predicate down into the reader so
// only matching rows are ever handed to the caller.
package source

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricepaid/internal/model"
)

// Options configures a Source.
type Options struct {
	Pattern      string // local or s3:// glob
	Format       Format
	Encoding     string // CSV text encoding
	S3Region     string
	TempDir      string // scratch space for remote Parquet downloads
	ParquetChunk int    // rows per Parquet read
}

// Filter is the predicate pushed into the reader.
type Filter struct {
	Partition            model.PartitionKey
	ExcludePropertyTypes []string
}

// Match reports whether r belongs to the partition and is not excluded.
func (f Filter) Match(r model.Record) bool {
	if r.PartitionKey() != f.Partition {
		return false
	}
	return !slices.Contains(f.ExcludePropertyTypes, r.PropertyType)
}

// Stats describes one scan.
type Stats struct {
	Files       int
	RowsRead    int64
	RowsMatched int64
}

// Source reads records from every object matching a location.
type Source struct {
	lister Lister
	loc    Location
	opts   Options
}

// New builds a Source for opts.Pattern. Unsupported schemes and formats are
// rejected here so misconfiguration fails before any partition is touched.
func New(opts Options) (*Source, error) {
	loc, err := ParseLocation(opts.Pattern)
	if err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = FormatAuto
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	if _, err := decodeReader(nil, opts.Encoding); err != nil {
		return nil, err
	}

	var l Lister
	switch loc.Scheme {
	case SchemeS3:
		l, err = newS3Lister(opts.S3Region, loc)
		if err != nil {
			return nil, err
		}
	default:
		l = &localLister{pattern: loc.Pattern}
	}
	return &Source{lister: l, loc: loc, opts: opts}, nil
}

// NewWithLister builds a Source over an explicit lister.
func NewWithLister(l Lister, opts Options) *Source {
	if opts.Format == "" {
		opts.Format = FormatAuto
	}
	return &Source{lister: l, opts: opts}
}

// Location returns the parsed source location.
func (s *Source) Location() Location {
	return s.loc
}

// Scan streams every record matching f to fn, object by object. An error
// returned by fn stops the scan and is returned unchanged; any other error
// comes from listing, opening or decoding the source.
func (s *Source) Scan(ctx context.Context, f Filter, fn func(model.Record) error) (Stats, error) {
	log := zap.L().With(zap.String("component", "source"), zap.Stringer("partition", f.Partition))
	var st Stats

	objs, err := s.lister.List(ctx)
	if err != nil {
		return st, err
	}
	if len(objs) == 0 {
		return st, eris.Errorf("source: no files match %s", s.pattern())
	}

	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return st, eris.Wrap(err, "source: context cancelled")
		}

		format, err := formatOf(obj.Name(), s.opts.Format)
		if err != nil {
			return st, err
		}

		before := st.RowsMatched
		switch format {
		case FormatParquet:
			err = s.scanParquet(ctx, obj, f, fn, &st)
		default:
			err = s.scanCSV(ctx, obj, f, fn, &st)
		}
		if err != nil {
			return st, err
		}
		st.Files++

		log.Debug("scanned object",
			zap.String("object", obj.Name()),
			zap.Int64("matched", st.RowsMatched-before),
		)
	}

	return st, nil
}

func (s *Source) pattern() string {
	if s.loc.Pattern != "" {
		return s.loc.String()
	}
	return s.opts.Pattern
}
