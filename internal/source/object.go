package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Object is one source file, local or remote.
type Object interface {
	// Name identifies the object in logs and errors.
	Name() string

	// Open streams the object's content.
	Open(ctx context.Context) (io.ReadCloser, error)

	// LocalPath returns a filesystem path with the object's content, for
	// formats that need random access. Remote objects are downloaded into
	// tempDir; cleanup removes the copy.
	LocalPath(ctx context.Context, tempDir string) (path string, cleanup func(), err error)
}

// Lister resolves a location into the objects it matches.
type Lister interface {
	List(ctx context.Context) ([]Object, error)
}

// localLister globs the local filesystem.
type localLister struct {
	pattern string
}

func (l *localLister) List(_ context.Context) ([]Object, error) {
	matches, err := filepath.Glob(l.pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "source: glob %q", l.pattern)
	}

	var objs []Object
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			return nil, eris.Wrapf(err, "source: stat %s", m)
		}
		if fi.IsDir() {
			continue
		}
		objs = append(objs, localObject(m))
	}
	return objs, nil
}

type localObject string

func (o localObject) Name() string { return string(o) }

func (o localObject) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(string(o))
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", o)
	}
	return f, nil
}

func (o localObject) LocalPath(_ context.Context, _ string) (string, func(), error) {
	return string(o), func() {}, nil
}

// Format is a source file encoding.
type Format string

const (
	FormatAuto    Format = "auto"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a configured format name. Empty means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", eris.Errorf("source: unknown format %q (valid: auto, csv, parquet)", s)
	}
}

// formatOf resolves the format of a single object.
func formatOf(name string, configured Format) (Format, error) {
	if configured != FormatAuto && configured != "" {
		return configured, nil
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	default:
		return "", eris.Errorf("source: cannot infer format of %s (set source.format)", name)
	}
}
