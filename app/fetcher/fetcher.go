package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lysyi3m/rss-skim/app/feed"
)

// Result of a conditional GET. Body is nil when the server answered 304;
// otherwise the caller owns it and must close it.
type Result struct {
	Status      int
	ContentType string
	Body        io.ReadCloser
	Caching     feed.CachingState
}

func (r *Result) NotModified() bool {
	return r.Status == http.StatusNotModified
}

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch issues a GET for url, sending the caching tokens from a previous
// fetch as conditional request headers.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, caching feed.CachingState) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if caching.ETag != "" {
		req.Header.Set("If-None-Match", caching.ETag)
	}
	if caching.LastModified != "" {
		req.Header.Set("If-Modified-Since", caching.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Result{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        resp.Body,
			Caching: feed.CachingState{
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			},
		}, nil

	case http.StatusNotModified:
		discard(resp.Body)
		return &Result{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Caching:     caching,
		}, nil

	default:
		discard(resp.Body)
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
}

// Draining lets the transport reuse the connection.
func discard(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
