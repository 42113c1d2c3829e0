package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

/*
Supabase wraps minimal calls to the Supabase Storage REST API.

Notes on authorization:
  - A legacy service_role JWT needs both `apikey` and `Authorization: Bearer <token>`.
  - A secret API key (sb_secret_...) that is not a JWT works with `apikey` alone;
    the Authorization header is then ignored.
*/
type Supabase struct {
	baseURL string // e.g. https://<project>.supabase.co
	apiKey  string
	bucket  string
	client  *http.Client
}

func NewSupabase(baseURL, apiKey, bucket string) *Supabase {
	return &Supabase{
		baseURL: baseURL,
		apiKey:  apiKey,
		bucket:  bucket,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Supabase) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, key)
}

// do sends one request; size > 0 fixes Content-Length, otherwise the body is chunked.
func (s *Supabase) do(ctx context.Context, method, url string, body io.Reader, size int64, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "build supabase request")
	}
	if body != nil && size > 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	res, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "supabase %s", method)
	}
	return res, nil
}

// Put: POST /storage/v1/object/{bucket}/{key}
func (s *Supabase) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	res, err := s.do(ctx, http.MethodPost, s.objectURL(key), r, size, contentType)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return errors.Errorf("supabase upload error: %s | %s", res.Status, string(body))
	}
	return nil
}

// Get: GET /storage/v1/object/{bucket}/{key}; the caller closes the body.
func (s *Supabase) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	res, err := s.do(ctx, http.MethodGet, s.objectURL(key), nil, 0, "")
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusBadRequest {
		// Supabase answers 400 "Object not found" for missing keys on some setups.
		res.Body.Close()
		return nil, ErrNotFound
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		return nil, errors.Errorf("supabase download error: %s | %s", res.Status, string(b))
	}
	return res.Body, nil
}

// Delete: DELETE /storage/v1/object/{bucket}/{key}
// Idempotent: 404 reports (false, nil).
func (s *Supabase) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.do(ctx, http.MethodDelete, s.objectURL(key), nil, 0, "")
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return false, errors.Errorf("supabase delete error: %s | %s", res.Status, string(b))
	}
	return true, nil
}
