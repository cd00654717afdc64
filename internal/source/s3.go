package source

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rotisserie/eris"
)

// s3API is the subset of the S3 client used to list and fetch objects.
type s3API interface {
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// s3Lister lists objects under the pattern's literal prefix and keeps keys
// matching the full glob.
type s3Lister struct {
	client  s3API
	bucket  string
	pattern string
}

func newS3Lister(region string, loc Location) (*s3Lister, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "source: create aws session")
	}
	return &s3Lister{client: s3.New(sess), bucket: loc.Bucket, pattern: loc.Pattern}, nil
}

func (l *s3Lister) List(ctx context.Context) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(literalPrefix(l.pattern)),
	}

	var (
		objs     []Object
		matchErr error
	)
	err := l.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			key := aws.StringValue(o.Key)
			ok, err := path.Match(l.pattern, key)
			if err != nil {
				matchErr = err
				return false
			}
			if ok {
				objs = append(objs, &s3Object{client: l.client, bucket: l.bucket, key: key})
			}
		}
		return true
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: list s3://%s/%s", l.bucket, l.pattern)
	}
	if matchErr != nil {
		return nil, eris.Wrapf(matchErr, "source: match %q", l.pattern)
	}
	return objs, nil
}

type s3Object struct {
	client s3API
	bucket string
	key    string
}

func (o *s3Object) Name() string { return "s3://" + o.bucket + "/" + o.key }

func (o *s3Object) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: get %s", o.Name())
	}
	return out.Body, nil
}

func (o *s3Object) LocalPath(ctx context.Context, tempDir string) (string, func(), error) {
	body, err := o.Open(ctx)
	if err != nil {
		return "", nil, err
	}
	defer body.Close() //nolint:errcheck

	f, err := os.CreateTemp(tempDir, "pricepaid-*"+path.Ext(o.key))
	if err != nil {
		return "", nil, eris.Wrap(err, "source: create temp file")
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, eris.Wrapf(err, "source: download %s", o.Name())
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "source: close download of %s", o.Name())
	}
	return f.Name(), cleanup, nil
}
