package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/rss-skim/app/feed"
	"github.com/lysyi3m/rss-skim/app/fetcher"
	"github.com/lysyi3m/rss-skim/app/metrics"
	"github.com/lysyi3m/rss-skim/app/xmltree"
)

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 30 * time.Second
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, caching feed.CachingState) (*fetcher.Result, error)
}

// Store is the persistence the crawler writes to. AddEntries must be
// idempotent and report only entries stored for the first time.
type Store interface {
	UpdateFeedMetadata(ctx context.Context, url string, f feed.Feed) error
	AddEntries(ctx context.Context, url string, entries []feed.Entry) (int, error)
	LogCrawlOutcome(ctx context.Context, outcome feed.CrawlOutcome) error
}

type Crawler struct {
	fetcher     Fetcher
	store       Store
	parser      *xmltree.Parser
	normalizer  *feed.Normalizer
	concurrency int
	timeout     time.Duration
	now         func() time.Time
}

type Option func(*Crawler)

func WithConcurrency(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithTimeout sets the fetch timeout for subscriptions without their own.
func WithTimeout(d time.Duration) Option {
	return func(c *Crawler) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithNormalizer(n *feed.Normalizer) Option {
	return func(c *Crawler) {
		c.normalizer = n
	}
}

func WithParser(p *xmltree.Parser) Option {
	return func(c *Crawler) {
		c.parser = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Crawler) {
		c.now = now
	}
}

func New(f Fetcher, store Store, opts ...Option) *Crawler {
	c := &Crawler{
		fetcher:     f,
		store:       store,
		parser:      xmltree.NewParser(),
		normalizer:  feed.NewNormalizer(),
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl fetches every subscription and stores what changed. Feeds run in
// batches of the configured concurrency; a batch finishes before the next
// one starts. Each subscription yields exactly one outcome, in input order.
func (c *Crawler) Crawl(ctx context.Context, subs []feed.Subscription) []feed.CrawlOutcome {
	started := time.Now()
	outcomes := make([]feed.CrawlOutcome, len(subs))

	for begin := 0; begin < len(subs); begin += c.concurrency {
		end := min(begin+c.concurrency, len(subs))

		var g errgroup.Group
		g.SetLimit(end - begin)
		for i := begin; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = c.crawlFeed(ctx, subs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	failed, newEntries := 0, 0
	for _, outcome := range outcomes {
		newEntries += outcome.NewEntries
		if outcome.Status < 0 || outcome.Status >= 400 {
			failed++
		}
	}

	metrics.ObserveCrawl(time.Since(started))
	slog.Info("Crawl completed",
		"feeds", len(subs),
		"failed", failed,
		"new", newEntries,
		"duration", time.Since(started))

	return outcomes
}

// crawlFeed never panics: a panic while processing or while recording the
// outcome turns into an unexpected outcome for this feed alone.
func (c *Crawler) crawlFeed(ctx context.Context, sub feed.Subscription) (outcome feed.CrawlOutcome) {
	metrics.IncFeedsInFlight()
	defer metrics.DecFeedsInFlight()

	outcome = feed.CrawlOutcome{
		ID:        uuid.NewString(),
		FeedURL:   sub.URL,
		Timestamp: c.now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			recordPanic(sub, &outcome, r)
		}
	}()

	started := time.Now()
	c.safeProcess(ctx, sub, &outcome)
	duration := time.Since(started)

	// The outcome is logged even when the crawl context is done.
	if err := c.store.LogCrawlOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		slog.Warn("Failed to log crawl outcome", "feed", sub.Name, "url", sub.URL, "error", err)
	}

	status := feed.StatusText(outcome.Status)
	metrics.ObserveOutcome(sub.URL, status, outcome.NewEntries, duration)

	if outcome.Error != "" {
		slog.Warn("Feed crawl failed", "feed", sub.Name, "url", sub.URL, "status", outcome.Status, "error", outcome.Error, "duration", duration)
	} else {
		slog.Debug("Feed crawled", "feed", sub.Name, "url", sub.URL, "status", outcome.Status, "new", outcome.NewEntries, "duration", duration)
	}

	return outcome
}

func (c *Crawler) safeProcess(ctx context.Context, sub feed.Subscription, outcome *feed.CrawlOutcome) {
	defer func() {
		if r := recover(); r != nil {
			recordPanic(sub, outcome, r)
		}
	}()

	if err := c.process(ctx, sub, outcome); err != nil {
		var classified error
		outcome.Status, classified = classify(sub.URL, err)
		outcome.NewEntries = 0
		outcome.Error = classified.Error()
	}
}

func recordPanic(sub feed.Subscription, outcome *feed.CrawlOutcome, r any) {
	slog.Error("Recovered panic while crawling feed", "feed", sub.Name, "url", sub.URL, "panic", r, "stack", string(debug.Stack()))
	err := &UnexpectedError{FeedURL: sub.URL, Err: fmt.Errorf("panic: %v", r)}
	outcome.Status = feed.StatusUnexpected
	outcome.NewEntries = 0
	outcome.Error = err.Error()
}

func (c *Crawler) process(ctx context.Context, sub feed.Subscription, outcome *feed.CrawlOutcome) error {
	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.fetcher.Fetch(fetchCtx, sub.URL, sub.Caching)
	if err != nil {
		return err
	}

	outcome.Status = result.Status
	outcome.ContentType = result.ContentType

	if result.NotModified() {
		return nil
	}
	defer result.Body.Close()

	if err := feed.AcceptsContentType(result.ContentType); err != nil {
		return err
	}

	body := &recordingReader{r: result.Body}
	doc, err := c.parser.Parse(body)
	if err != nil {
		if body.err != nil {
			return &fetcher.TransportError{URL: sub.URL, Err: body.err}
		}
		return err
	}

	resolved, err := feed.Resolve(doc, result.ContentType)
	if err != nil {
		return err
	}

	metadata := c.normalizer.Feed(resolved.Feed)
	metadata.Caching = result.Caching
	entries := c.normalizer.Entries(sub.URL, resolved.Entries, outcome.Timestamp)

	// Caching tokens move forward only once the entries are stored, so a
	// failed write is retried with a full fetch on the next cycle.
	newEntries, err := c.store.AddEntries(ctx, sub.URL, entries)
	if err != nil {
		return &UnexpectedError{FeedURL: sub.URL, Err: fmt.Errorf("failed to add entries: %w", err)}
	}
	outcome.NewEntries = newEntries

	if err := c.store.UpdateFeedMetadata(ctx, sub.URL, metadata); err != nil {
		return &UnexpectedError{FeedURL: sub.URL, Err: fmt.Errorf("failed to update feed metadata: %w", err)}
	}

	return nil
}

// classify maps a crawl error to its outcome status. Unclassified errors
// come back wrapped in UnexpectedError.
func classify(url string, err error) (int, error) {
	var transportErr *fetcher.TransportError
	var statusErr *fetcher.HTTPStatusError
	var malformedErr *xmltree.MalformedDocumentError
	var unrecognizedErr *feed.UnrecognizedFormatError
	var unexpectedErr *UnexpectedError

	switch {
	case errors.As(err, &transportErr):
		return feed.StatusTransportError, err
	case errors.As(err, &statusErr):
		return statusErr.StatusCode, err
	case errors.As(err, &malformedErr):
		return feed.StatusMalformed, err
	case errors.As(err, &unrecognizedErr):
		return feed.StatusUnrecognized, err
	case errors.As(err, &unexpectedErr):
		return feed.StatusUnexpected, err
	default:
		return feed.StatusUnexpected, &UnexpectedError{FeedURL: url, Err: err}
	}
}

// recordingReader remembers the first read error so a body that fails
// mid-stream is reported as a transport failure rather than bad markup.
type recordingReader struct {
	r   io.Reader
	err error
}

func (r *recordingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}
