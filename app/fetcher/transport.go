package fetcher

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPTransport returns a pooled transport sized for a crawl running
// concurrency fetches at once.
func NewHTTPTransport(concurrency int) *http.Transport {
	concurrency = max(1, concurrency)
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          max(100, concurrency*2),
		MaxIdleConnsPerHost:   concurrency,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
