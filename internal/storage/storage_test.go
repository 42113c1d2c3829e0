package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s BlobStore) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "case/1/a.txt", strings.NewReader("hello"), 5, "text/plain"))

	rc, err := s.Get(ctx, "case/1/a.txt")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(b))

	removed, err := s.Delete(ctx, "case/1/a.txt")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete(ctx, "case/1/a.txt")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.Get(ctx, "case/1/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBucket(t *testing.T) {
	b := OpenMemory()
	t.Cleanup(func() { _ = b.Close() })
	exercise(t, b)
}

func TestLocalBucket(t *testing.T) {
	b, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	exercise(t, b)
}

func TestSupabaseAgainstFakeServer(t *testing.T) {
	objects := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("apikey"))
		key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/docs/")
		switch r.Method {
		case http.MethodPost:
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, int64(len(b)), r.ContentLength)
			assert.Empty(t, r.TransferEncoding)
			objects[key] = string(b)
		case http.MethodGet:
			v, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(v))
		case http.MethodDelete:
			if _, ok := objects[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(objects, key)
		}
	}))
	t.Cleanup(srv.Close)

	exercise(t, NewSupabase(srv.URL, "key", "docs"))
}

func TestSupabaseUploadSizeAndFailures(t *testing.T) {
	var gotLength int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.ContentLength
		_, _ = io.ReadAll(r.Body)
		if strings.HasSuffix(r.URL.Path, "/full.pdf") {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("bucket full"))
		}
	}))
	t.Cleanup(srv.Close)
	s := NewSupabase(srv.URL, "key", "docs")
	ctx := context.Background()

	// a plain io.Reader would otherwise go out chunked with no length
	body := io.LimitReader(strings.NewReader("dilekçe içeriği"), 1<<20)
	require.NoError(t, s.Put(ctx, "case/1/ok.pdf", body, int64(len("dilekçe içeriği")), "application/pdf"))
	assert.Equal(t, int64(len("dilekçe içeriği")), gotLength)

	err := s.Put(ctx, "case/1/full.pdf", strings.NewReader("x"), 1, "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "bucket full")

	dead := NewSupabase("http://127.0.0.1:1", "key", "docs")
	_, err = dead.Get(ctx, "case/1/ok.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase GET")
}

func TestMakeObjectKey(t *testing.T) {
	caseID, userID := uuid.New(), uuid.New()
	k := MakeObjectKey(&caseID, userID, "Contract.PDF")
	assert.True(t, strings.HasPrefix(k, "case/"+caseID.String()+"/"))
	assert.True(t, strings.HasSuffix(k, ".pdf"))

	k = MakeObjectKey(nil, userID, "note.txt")
	assert.True(t, strings.HasPrefix(k, "user/"+userID.String()+"/"))
}

func TestNewSelectsDriver(t *testing.T) {
	s, closeFn, err := New(context.Background(), Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Bucket{}, s)
	require.NoError(t, closeFn())

	s, _, err = New(context.Background(), Options{Driver: "supabase", SupabaseURL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &Supabase{}, s)

	_, _, err = New(context.Background(), Options{Driver: "ftp"})
	assert.Error(t, err)
}
