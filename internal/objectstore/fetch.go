package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gradi/internal/services"
)

const maxDownloadBytes = 64 << 20

// Fetcher resolves download references. A reference is an http(s) URL, an
// s3://bucket/key URL, or a bare key in the configured store.
type Fetcher struct {
	store   Store
	client  *http.Client
	timeout time.Duration
}

// NewFetcher returns a fetcher reading bare keys from store.
func NewFetcher(store Store, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{store: store, client: &http.Client{}, timeout: timeout}
}

// WithHTTPClient overrides the client used for http(s) references.
func (f *Fetcher) WithHTTPClient(client *http.Client) *Fetcher {
	if client != nil {
		f.client = client
	}
	return f
}

// Fetch downloads ref within the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, services.Wrap(services.ErrValidation, "objectstore", "fetch", "empty download reference", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parsed, err := url.Parse(ref)
	if err != nil || parsed.Scheme == "" {
		return f.fromStore(ctx, "", strings.TrimPrefix(ref, "/"))
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return f.fromHTTP(ctx, ref)
	case "s3":
		key := strings.TrimPrefix(parsed.Path, "/")
		if parsed.Host == "" || key == "" {
			return nil, services.Wrap(services.ErrValidation, "objectstore", "fetch", fmt.Sprintf("malformed s3 reference %q", ref), nil)
		}
		return f.fromStore(ctx, parsed.Host, key)
	default:
		return nil, services.Wrap(services.ErrValidation, "objectstore", "fetch", fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
}

func (f *Fetcher) fromStore(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "fetch", "no object store configured", nil)
	}
	if bucket != "" {
		if reader, ok := f.store.(BucketReader); ok {
			return reader.GetFromBucket(ctx, bucket, key)
		}
	}
	return f.store.Get(ctx, key)
}

func (f *Fetcher) fromHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "objectstore", "fetch", "build request", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, services.Wrap(services.ErrTimeout, "objectstore", "fetch", redact(ref), err)
		}
		return nil, services.Wrap(services.ErrTransient, "objectstore", "fetch", redact(ref), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "objectstore", "fetch", fmt.Sprintf("%s returned 404", redact(ref)), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, services.Wrap(services.ErrTransient, "objectstore", "fetch", fmt.Sprintf("%s returned %d", redact(ref), resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "objectstore", "fetch", "read body", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, services.Wrap(services.ErrValidation, "objectstore", "fetch", "object exceeds download limit", nil)
	}
	return data, nil
}

// redact drops the query string, which holds presigned credentials.
func redact(ref string) string {
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		return ref[:i]
	}
	return ref
}
