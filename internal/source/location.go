package source

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Scheme identifies where source objects live.
type Scheme string

const (
	SchemeLocal Scheme = "file"
	SchemeS3    Scheme = "s3"
)

// Location is a parsed source pattern.
type Location struct {
	Scheme  Scheme
	Bucket  string // s3 only
	Pattern string // glob; for s3 it applies to object keys
}

// ParseLocation parses a local glob ("/data/pp-*.csv", "file:///data/*.csv")
// or an S3 glob ("s3://bucket/land_registry/pp-*.csv"). Other schemes are
// rejected.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, eris.New("source: empty location")
	}

	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Location{Scheme: SchemeLocal, Pattern: s}, nil
	}

	switch Scheme(strings.ToLower(scheme)) {
	case SchemeLocal:
		if rest == "" {
			return Location{}, eris.Errorf("source: empty path in %q", s)
		}
		return Location{Scheme: SchemeLocal, Pattern: rest}, nil
	case SchemeS3:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, eris.Errorf("source: s3 location %q needs a bucket and key pattern", s)
		}
		return Location{Scheme: SchemeS3, Bucket: bucket, Pattern: key}, nil
	default:
		return Location{}, eris.Errorf("source: unsupported scheme %q in %q", scheme, s)
	}
}

// String renders the location back to its URI form.
func (l Location) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket + "/" + l.Pattern
	}
	return l.Pattern
}

// literalPrefix returns the part of a glob before its first meta character.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
