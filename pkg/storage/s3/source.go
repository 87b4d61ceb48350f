package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/tracelane/tracelane/pkg/util"
)

// Source reads trace files stored under an S3 prefix.
type Source struct {
	client *Client
	bucket string
	prefix string
}

// NewSource creates a source for an s3://bucket/prefix location.
func NewSource(client *Client, location string) (*Source, error) {
	bucket, prefix, err := ParseURL(location)
	if err != nil {
		return nil, err
	}
	return &Source{client: client, bucket: bucket, prefix: prefix}, nil
}

// Open returns the named file, falling back to its .gz variant.
func (s *Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.client.Reader(ctx, s.bucket, JoinKey(s.prefix, name))
	if err == nil {
		return rc, nil
	}

	gzName := name + ".gz"
	rc, gzErr := s.client.Reader(ctx, s.bucket, JoinKey(s.prefix, gzName))
	if gzErr != nil {
		return nil, err
	}
	return util.MaybeGunzip(gzName, rc)
}

// Local reports that files are not on the local filesystem.
func (s *Source) Local() (string, bool) {
	return "", false
}

func (s *Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}
