package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-skim/app/feed"
)

func TestFetchReturnsBodyAndCachingTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rss-skim-test", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("If-None-Match"))
		assert.Empty(t, r.Header.Get("If-Modified-Since"))

		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 03 Jul 2023 10:00:00 GMT")
		_, _ = io.WriteString(w, "<rss/>")
	}))
	defer server.Close()

	result, err := NewHTTPFetcher(server.Client(), "rss-skim-test").Fetch(context.Background(), server.URL, feed.CachingState{})
	require.NoError(t, err)
	defer result.Body.Close()

	assert.Equal(t, http.StatusOK, result.Status)
	assert.False(t, result.NotModified())
	assert.Equal(t, "application/rss+xml; charset=utf-8", result.ContentType)
	assert.Equal(t, feed.CachingState{ETag: `"v1"`, LastModified: "Mon, 03 Jul 2023 10:00:00 GMT"}, result.Caching)

	body, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(body))
}

func TestFetchNotModifiedKeepsCachingState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` && r.Header.Get("If-Modified-Since") == "Mon, 03 Jul 2023 10:00:00 GMT" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		t.Errorf("Expected conditional headers, got %v", r.Header)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	caching := feed.CachingState{ETag: `"v1"`, LastModified: "Mon, 03 Jul 2023 10:00:00 GMT"}
	result, err := NewHTTPFetcher(server.Client(), "").Fetch(context.Background(), server.URL, caching)
	require.NoError(t, err)

	assert.True(t, result.NotModified())
	assert.Nil(t, result.Body)
	assert.Equal(t, caching, result.Caching)
}

func TestFetchHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	_, err := NewHTTPFetcher(server.Client(), "").Fetch(context.Background(), server.URL, feed.CachingState{})

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
	assert.Equal(t, server.URL, statusErr.URL)
}

func TestFetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPFetcher(nil, "").Fetch(context.Background(), url, feed.CachingState{})

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, url, transportErr.URL)
}

func TestFetchTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPFetcher(server.Client(), "").Fetch(ctx, server.URL, feed.CachingState{})

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPTransport(t *testing.T) {
	transport := NewHTTPTransport(0)
	assert.Equal(t, 1, transport.MaxIdleConnsPerHost)

	transport = NewHTTPTransport(80)
	assert.Equal(t, 160, transport.MaxIdleConns)
	assert.Equal(t, 80, transport.MaxIdleConnsPerHost)
}
