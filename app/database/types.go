package database

import (
	"time"

	"github.com/lysyi3m/rss-skim/app/feed"
)

// SubscriptionConfig is what a subscription file contributes to the feeds
// table.
type SubscriptionConfig struct {
	Name    string
	URL     string
	Enabled bool
	Timeout time.Duration
}

type FeedRecord struct {
	URL       string
	Name      string
	Enabled   bool
	Timeout   time.Duration
	Title     string
	Site      string
	Icon      string
	Caching   feed.CachingState
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r FeedRecord) Subscription() feed.Subscription {
	return feed.Subscription{
		Name:    r.Name,
		URL:     r.URL,
		Caching: r.Caching,
		Timeout: r.Timeout,
	}
}

// enclosures returns the entry's enclosures, or nil when it has none so the
// column stays NULL.
func enclosures(entry feed.Entry) []feed.Enclosure {
	if len(entry.Enclosures) == 0 {
		return nil
	}
	return entry.Enclosures
}
