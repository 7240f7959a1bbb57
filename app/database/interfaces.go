package database

import (
	"context"

	"github.com/lysyi3m/rss-skim/app/feed"
)

// Store persists subscriptions, entries and the crawl log. Lookups return
// nil, nil when nothing matches.
type Store interface {
	UpsertSubscription(ctx context.Context, sub SubscriptionConfig) error
	ListSubscriptions(ctx context.Context) ([]feed.Subscription, error)
	ListFeeds(ctx context.Context) ([]FeedRecord, error)
	GetFeed(ctx context.Context, name string) (*FeedRecord, error)

	UpdateFeedMetadata(ctx context.Context, url string, f feed.Feed) error
	AddEntries(ctx context.Context, url string, entries []feed.Entry) (int, error)
	ListEntries(ctx context.Context, feedURL string, limit int) ([]feed.Entry, error)

	LogCrawlOutcome(ctx context.Context, outcome feed.CrawlOutcome) error
	RecentOutcomes(ctx context.Context, limit int) ([]feed.CrawlOutcome, error)

	Close() error
}

const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindMemory   = "memory"
)
