package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore keeps document bytes. Keys are opaque to callers.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is idempotent; the bool reports whether an object was removed.
	Delete(ctx context.Context, key string) (bool, error)
}

// MakeObjectKey builds a tidy object key:
// case/<caseID>/<uuid><ext> or user/<userID>/<uuid><ext> for unattached files.
func MakeObjectKey(caseID *uuid.UUID, userID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	name := uuid.NewString() + ext
	if caseID != nil {
		return path.Join("case", caseID.String(), name)
	}
	return path.Join("user", userID.String(), name)
}

type Options struct {
	Driver         string // supabase | local | memory
	Dir            string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

// New opens the configured blob store. The returned close func releases it.
func New(ctx context.Context, o Options) (BlobStore, func() error, error) {
	switch o.Driver {
	case "supabase":
		return NewSupabase(o.SupabaseURL, o.SupabaseKey, o.SupabaseBucket), func() error { return nil }, nil
	case "local":
		b, err := OpenLocal(o.Dir)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "memory", "":
		b := OpenMemory()
		return b, b.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", o.Driver)
}
