package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
	"github.com/lysyi3m/rss-skim/app/fetcher"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <link>https://example.com/</link>
    <item>
      <guid>https://example.com/posts/1</guid>
      <title>First</title>
      <link>https://example.com/posts/1</link>
      <pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate>
      <description>Hello</description>
    </item>
    <item>
      <guid>https://example.com/posts/2</guid>
      <title>Second</title>
      <link>https://example.com/posts/2</link>
      <pubDate>Tue, 05 Mar 2024 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

type response struct {
	result *fetcher.Result
	err    error
	panic  bool
	block  bool
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]response
	calls     map[string][]feed.CachingState

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]response),
		calls:     make(map[string][]feed.CachingState),
	}
}

func (f *fakeFetcher) respond(url, contentType, body string) {
	f.responses[url] = response{result: &fetcher.Result{
		Status:      200,
		ContentType: contentType,
		Body:        io.NopCloser(strings.NewReader(body)),
	}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, caching feed.CachingState) (*fetcher.Result, error) {
	active := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		current := f.maxActive.Load()
		if active <= current || f.maxActive.CompareAndSwap(current, active) {
			break
		}
	}

	f.mu.Lock()
	f.calls[url] = append(f.calls[url], caching)
	resp, ok := f.responses[url]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	switch {
	case !ok:
		return nil, &fetcher.TransportError{URL: url, Err: errors.New("no such host")}
	case resp.panic:
		panic("fetcher exploded")
	case resp.block:
		<-ctx.Done()
		return nil, &fetcher.TransportError{URL: url, Err: ctx.Err()}
	}
	return resp.result, resp.err
}

type failingStore struct {
	*database.MemoryStore
	addErr   error
	logErr   error
	logPanic string
}

func (s *failingStore) AddEntries(ctx context.Context, url string, entries []feed.Entry) (int, error) {
	if s.addErr != nil {
		return 0, s.addErr
	}
	return s.MemoryStore.AddEntries(ctx, url, entries)
}

func (s *failingStore) LogCrawlOutcome(ctx context.Context, outcome feed.CrawlOutcome) error {
	if outcome.FeedURL == s.logPanic {
		panic("log write exploded")
	}
	if s.logErr != nil {
		return s.logErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.LogCrawlOutcome(ctx, outcome)
}

func subscriptions(urls ...string) []feed.Subscription {
	subs := make([]feed.Subscription, 0, len(urls))
	for _, url := range urls {
		subs = append(subs, feed.Subscription{Name: url, URL: url})
	}
	return subs
}

func TestCrawlStoresNewEntries(t *testing.T) {
	f := newFakeFetcher()
	f.respond("https://example.com/feed.xml", "application/rss+xml; charset=utf-8", rssBody)
	store := database.NewMemoryStore()

	outcomes := New(f, store).Crawl(context.Background(), subscriptions("https://example.com/feed.xml"))

	require.Len(t, outcomes, 1)
	assert.Equal(t, 200, outcomes[0].Status)
	assert.Equal(t, 2, outcomes[0].NewEntries)
	assert.Empty(t, outcomes[0].Error)
	assert.NotEmpty(t, outcomes[0].ID)
	assert.Equal(t, "application/rss+xml; charset=utf-8", outcomes[0].ContentType)

	entries, err := store.ListEntries(context.Background(), "https://example.com/feed.xml", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://example.com/posts/2", entries[0].ID)

	logged, err := store.RecentOutcomes(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestCrawlIsIdempotentAcrossCycles(t *testing.T) {
	f := newFakeFetcher()
	store := database.NewMemoryStore()
	c := New(f, store)
	subs := subscriptions("https://example.com/feed.xml")

	f.respond("https://example.com/feed.xml", "application/rss+xml", rssBody)
	first := c.Crawl(context.Background(), subs)
	require.Equal(t, 2, first[0].NewEntries)

	f.respond("https://example.com/feed.xml", "application/rss+xml", rssBody)
	second := c.Crawl(context.Background(), subs)
	assert.Equal(t, 200, second[0].Status)
	assert.Equal(t, 0, second[0].NewEntries)
}

func TestCrawlIsolatesFailures(t *testing.T) {
	f := newFakeFetcher()
	f.respond("https://ok.example.com/", "application/rss+xml", rssBody)
	f.responses["https://gone.example.com/"] = response{err: &fetcher.HTTPStatusError{
		URL: "https://gone.example.com/", StatusCode: 500, Status: "500 Internal Server Error",
	}}
	f.respond("https://broken.example.com/", "application/xml", "<rss><channel><title>cut")
	f.respond("https://odd.example.com/", "application/xml", "<wat/>")
	f.respond("https://plain.example.com/", "text/plain", "just text")
	f.responses["https://panic.example.com/"] = response{panic: true}

	subs := subscriptions(
		"https://ok.example.com/",
		"https://unreachable.example.com/",
		"https://gone.example.com/",
		"https://broken.example.com/",
		"https://odd.example.com/",
		"https://plain.example.com/",
		"https://panic.example.com/",
	)

	outcomes := New(f, database.NewMemoryStore(), WithConcurrency(3)).Crawl(context.Background(), subs)

	require.Len(t, outcomes, len(subs))
	statuses := make([]int, len(outcomes))
	for i, outcome := range outcomes {
		assert.Equal(t, subs[i].URL, outcome.FeedURL)
		statuses[i] = outcome.Status
	}
	assert.Equal(t, []int{
		200,
		feed.StatusTransportError,
		500,
		feed.StatusMalformed,
		feed.StatusUnrecognized,
		feed.StatusUnrecognized,
		feed.StatusUnexpected,
	}, statuses)

	assert.Equal(t, 2, outcomes[0].NewEntries)
	for _, outcome := range outcomes[1:] {
		assert.Zero(t, outcome.NewEntries)
		assert.NotEmpty(t, outcome.Error)
	}
}

func TestCrawlRespectsConcurrency(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 20 * time.Millisecond
	var urls []string
	for _, host := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		url := "https://" + host + ".example.com/"
		urls = append(urls, url)
		f.respond(url, "application/rss+xml", rssBody)
	}

	outcomes := New(f, database.NewMemoryStore(), WithConcurrency(2)).Crawl(context.Background(), subscriptions(urls...))

	assert.Len(t, outcomes, len(urls))
	assert.LessOrEqual(t, f.maxActive.Load(), int32(2))
	assert.Positive(t, f.maxActive.Load())
}

func TestCrawlNotModified(t *testing.T) {
	f := newFakeFetcher()
	caching := feed.CachingState{ETag: `"v1"`, LastModified: "Mon, 04 Mar 2024 10:00:00 GMT"}
	f.responses["https://example.com/feed.xml"] = response{result: &fetcher.Result{Status: 304, Caching: caching}}
	store := database.NewMemoryStore()

	subs := []feed.Subscription{{Name: "example", URL: "https://example.com/feed.xml", Caching: caching}}
	outcomes := New(f, store).Crawl(context.Background(), subs)

	require.Len(t, outcomes, 1)
	assert.Equal(t, 304, outcomes[0].Status)
	assert.Zero(t, outcomes[0].NewEntries)
	assert.Empty(t, outcomes[0].Error)
	assert.Equal(t, []feed.CachingState{caching}, f.calls["https://example.com/feed.xml"])

	entries, err := store.ListEntries(context.Background(), "https://example.com/feed.xml", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCrawlUpdatesCachingTokens(t *testing.T) {
	f := newFakeFetcher()
	caching := feed.CachingState{ETag: `"v2"`}
	f.responses["https://example.com/feed.xml"] = response{result: &fetcher.Result{
		Status:      200,
		ContentType: "application/rss+xml",
		Body:        io.NopCloser(strings.NewReader(rssBody)),
		Caching:     caching,
	}}

	store := database.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSubscription(ctx, database.SubscriptionConfig{
		Name: "example", URL: "https://example.com/feed.xml", Enabled: true,
	}))

	New(f, store).Crawl(ctx, subscriptions("https://example.com/feed.xml"))

	record, err := store.GetFeed(ctx, "example")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, caching, record.Caching)
	assert.Equal(t, "Example", record.Title)
	assert.Equal(t, "https://example.com/", record.Site)
}

func TestCrawlPerFeedTimeout(t *testing.T) {
	f := newFakeFetcher()
	f.responses["https://slow.example.com/"] = response{block: true}

	subs := []feed.Subscription{{Name: "slow", URL: "https://slow.example.com/", Timeout: 20 * time.Millisecond}}

	started := time.Now()
	outcomes := New(f, database.NewMemoryStore()).Crawl(context.Background(), subs)

	require.Len(t, outcomes, 1)
	assert.Equal(t, feed.StatusTransportError, outcomes[0].Status)
	assert.Less(t, time.Since(started), DefaultTimeout)
}

func TestCrawlPersistenceFailure(t *testing.T) {
	f := newFakeFetcher()
	f.respond("https://example.com/feed.xml", "application/rss+xml", rssBody)
	store := &failingStore{MemoryStore: database.NewMemoryStore(), addErr: errors.New("disk full")}

	outcomes := New(f, store).Crawl(context.Background(), subscriptions("https://example.com/feed.xml"))

	require.Len(t, outcomes, 1)
	assert.Equal(t, feed.StatusUnexpected, outcomes[0].Status)
	assert.Zero(t, outcomes[0].NewEntries)
	assert.Contains(t, outcomes[0].Error, "disk full")
}

func TestCrawlPersistenceFailureKeepsCachingTokens(t *testing.T) {
	const url = "https://example.com/feed.xml"
	f := newFakeFetcher()
	f.responses[url] = response{result: &fetcher.Result{
		Status:      200,
		ContentType: "application/rss+xml",
		Body:        io.NopCloser(strings.NewReader(rssBody)),
		Caching:     feed.CachingState{ETag: `"v2"`},
	}}

	store := &failingStore{MemoryStore: database.NewMemoryStore(), addErr: errors.New("disk full")}
	ctx := context.Background()
	previous := feed.CachingState{ETag: `"v1"`}
	require.NoError(t, store.UpsertSubscription(ctx, database.SubscriptionConfig{Name: "example", URL: url, Enabled: true}))
	require.NoError(t, store.UpdateFeedMetadata(ctx, url, feed.Feed{Caching: previous}))

	subs := []feed.Subscription{{Name: "example", URL: url, Caching: previous}}
	outcomes := New(f, store).Crawl(ctx, subs)

	require.Len(t, outcomes, 1)
	assert.Equal(t, feed.StatusUnexpected, outcomes[0].Status)

	record, err := store.GetFeed(ctx, "example")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, previous, record.Caching)
	assert.Empty(t, record.Title)
}

func TestCrawlSlowFeedsDoNotStarveLaterBatches(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 20 * time.Millisecond
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://f%d.example.com/feed.xml", i)
		f.respond(urls[i], "application/rss+xml", rssBody)
	}

	outcomes := New(f, database.NewMemoryStore(), WithConcurrency(1), WithTimeout(time.Second)).
		Crawl(context.Background(), subscriptions(urls...))

	require.Len(t, outcomes, len(urls))
	for _, outcome := range outcomes {
		assert.Equal(t, 200, outcome.Status, "%s: %s", outcome.FeedURL, outcome.Error)
	}
}

func TestCrawlLogsOutcomesAfterContextEnds(t *testing.T) {
	f := newFakeFetcher()
	f.responses["https://slow.example.com/"] = response{block: true}
	store := &failingStore{MemoryStore: database.NewMemoryStore()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := New(f, store).Crawl(ctx, subscriptions("https://slow.example.com/"))

	require.Len(t, outcomes, 1)
	assert.Equal(t, feed.StatusTransportError, outcomes[0].Status)

	logged, err := store.RecentOutcomes(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestCrawlRecoversPanicWhileLoggingOutcome(t *testing.T) {
	f := newFakeFetcher()
	f.respond("https://a.example.com/", "application/rss+xml", rssBody)
	f.respond("https://b.example.com/", "application/rss+xml", rssBody)
	store := &failingStore{MemoryStore: database.NewMemoryStore(), logPanic: "https://a.example.com/"}

	var outcomes []feed.CrawlOutcome
	require.NotPanics(t, func() {
		outcomes = New(f, store, WithConcurrency(2)).
			Crawl(context.Background(), subscriptions("https://a.example.com/", "https://b.example.com/"))
	})

	require.Len(t, outcomes, 2)
	assert.Equal(t, feed.StatusUnexpected, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, "log write exploded")
	assert.Equal(t, 200, outcomes[1].Status)
	assert.Equal(t, 2, outcomes[1].NewEntries)
}

func TestCrawlIgnoresLogFailure(t *testing.T) {
	f := newFakeFetcher()
	f.respond("https://example.com/feed.xml", "application/rss+xml", rssBody)
	store := &failingStore{MemoryStore: database.NewMemoryStore(), logErr: errors.New("read-only")}

	outcomes := New(f, store).Crawl(context.Background(), subscriptions("https://example.com/feed.xml"))

	require.Len(t, outcomes, 1)
	assert.Equal(t, 200, outcomes[0].Status)
	assert.Equal(t, 2, outcomes[0].NewEntries)
}

func TestCrawlUsesClockForOutcomes(t *testing.T) {
	f := newFakeFetcher()
	f.respond("https://example.com/feed.xml", "application/rss+xml", rssBody)
	fixed := time.Date(2024, 3, 6, 8, 0, 0, 0, time.FixedZone("CET", 3600))

	outcomes := New(f, database.NewMemoryStore(), WithClock(func() time.Time { return fixed })).
		Crawl(context.Background(), subscriptions("https://example.com/feed.xml"))

	require.Len(t, outcomes, 1)
	assert.True(t, fixed.Equal(outcomes[0].Timestamp))
	assert.Equal(t, time.UTC, outcomes[0].Timestamp.Location())
}

func TestClassifyWrapsUnknownErrors(t *testing.T) {
	status, err := classify("https://example.com/", errors.New("boom"))

	assert.Equal(t, feed.StatusUnexpected, status)
	var unexpected *UnexpectedError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, "https://example.com/", unexpected.FeedURL)
}
