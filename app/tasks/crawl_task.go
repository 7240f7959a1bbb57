package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
)

// CrawlTask runs one crawl cycle over the enabled subscriptions, or over a
// single feed when FeedName is set. Tasks sharing an inFlight flag never
// overlap: a task that finds a crawl already running is a no-op.
type CrawlTask struct {
	Task
	store    database.Store
	crawler  Crawler
	inFlight *atomic.Bool

	Outcomes []feed.CrawlOutcome
	Skipped  bool
}

func NewCrawlTask(feedName string, store database.Store, crawler Crawler, inFlight *atomic.Bool) *CrawlTask {
	if inFlight == nil {
		inFlight = &atomic.Bool{}
	}

	task := NewTask(TaskTypeCrawl, feedName)
	// Feeds are bounded by their own fetch timeouts.
	task.Timeout = 0

	return &CrawlTask{
		Task:     task,
		store:    store,
		crawler:  crawler,
		inFlight: inFlight,
	}
}

func (t *CrawlTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.inFlight.CompareAndSwap(false, true) {
		t.Skipped = true
		slog.Info("Crawl already in progress, skipping", "id", t.ID, "feed", t.FeedName)
		return nil
	}
	defer t.inFlight.Store(false)

	subs, err := t.store.ListSubscriptions(ctx)
	if err != nil {
		slog.Error("Task failed", "type", string(t.Type), "error", err)
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	if t.FeedName != "" {
		subs = selectFeed(subs, t.FeedName)
		if len(subs) == 0 {
			return fmt.Errorf("feed %s is not an enabled subscription", t.FeedName)
		}
	}

	if len(subs) == 0 {
		slog.Debug("No enabled subscriptions to crawl")
		return nil
	}

	t.Outcomes = t.crawler.Crawl(ctx, subs)

	newEntries := 0
	for _, outcome := range t.Outcomes {
		newEntries += outcome.NewEntries
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"feed", t.FeedName,
		"feeds", len(subs),
		"new", newEntries,
		"duration", t.GetDuration())

	return nil
}

func selectFeed(subs []feed.Subscription, name string) []feed.Subscription {
	for _, sub := range subs {
		if sub.Name == name {
			return []feed.Subscription{sub}
		}
	}
	return nil
}
