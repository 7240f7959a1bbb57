package api

import (
	"time"

	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
	"github.com/lysyi3m/rss-skim/app/tasks"
)

type Handler struct {
	store       database.Store
	configCache *feed.ConfigCache
	scheduler   tasks.TaskSchedulerInterface
	startedAt   time.Time
}

type feedResponse struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Enabled      bool      `json:"enabled"`
	Timeout      string    `json:"timeout,omitempty"`
	Title        string    `json:"title"`
	Site         string    `json:"site,omitempty"`
	Icon         string    `json:"icon,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newFeedResponse(record database.FeedRecord) feedResponse {
	resp := feedResponse{
		Name:         record.Name,
		URL:          record.URL,
		Enabled:      record.Enabled,
		Title:        record.Title,
		Site:         record.Site,
		Icon:         record.Icon,
		ETag:         record.Caching.ETag,
		LastModified: record.Caching.LastModified,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if record.Timeout > 0 {
		resp.Timeout = record.Timeout.String()
	}
	return resp
}

type entryResponse struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Link       string           `json:"link"`
	Timestamp  time.Time        `json:"timestamp"`
	Creators   []string         `json:"creators"`
	Categories []string         `json:"categories"`
	Body       string           `json:"body"`
	Enclosures []feed.Enclosure `json:"enclosures,omitempty"`
}

func newEntryResponse(entry feed.Entry) entryResponse {
	creators := entry.Creators
	if creators == nil {
		creators = []string{}
	}
	return entryResponse{
		ID:         entry.ID,
		Title:      entry.Title,
		Link:       entry.Link,
		Timestamp:  entry.Timestamp,
		Creators:   creators,
		Categories: entry.Categories,
		Body:       entry.Body,
		Enclosures: entry.Enclosures,
	}
}

type outcomeResponse struct {
	ID          string    `json:"id"`
	FeedURL     string    `json:"feed_url"`
	Status      int       `json:"status"`
	StatusText  string    `json:"status_text"`
	ContentType string    `json:"content_type,omitempty"`
	NewEntries  int       `json:"new_entries"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func newOutcomeResponse(outcome feed.CrawlOutcome) outcomeResponse {
	return outcomeResponse{
		ID:          outcome.ID,
		FeedURL:     outcome.FeedURL,
		Status:      outcome.Status,
		StatusText:  feed.StatusText(outcome.Status),
		ContentType: outcome.ContentType,
		NewEntries:  outcome.NewEntries,
		Error:       outcome.Error,
		Timestamp:   outcome.Timestamp,
	}
}
