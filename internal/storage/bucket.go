package storage

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// Bucket adapts a Go CDK bucket (local disk or memory) to BlobStore.
type Bucket struct {
	b *blob.Bucket
}

func OpenLocal(dir string) (*Bucket, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, errors.Wrap(err, "open file bucket")
	}
	return &Bucket{b: b}, nil
}

func OpenMemory() *Bucket {
	return &Bucket{b: memblob.OpenBucket(nil)}
}

func (s *Bucket) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	w, err := s.b.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrap(err, "open writer")
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "write object")
	}
	return errors.Wrap(w.Close(), "commit object")
}

func (s *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rd, err := s.b.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "open reader")
	}
	return rd, nil
}

func (s *Bucket) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.b.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, errors.Wrap(err, "delete object")
	}
	return true, nil
}

func (s *Bucket) Close() error { return s.b.Close() }
