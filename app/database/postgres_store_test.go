package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-skim/app/feed"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	store, err := NewPostgresStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStoreWithPoolRequiresPool(t *testing.T) {
	_, err := NewPostgresStoreWithPool(nil)
	assert.Error(t, err)
}

func TestPostgresAddEntries(t *testing.T) {
	store, mock := newMockStore(t)
	const url = "https://example.com/feed.xml"
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := sampleEntry("a", ts)
	second := sampleEntry("b", ts)
	second.Creators = nil
	second.Categories = nil
	second.Enclosures = []feed.Enclosure{{URL: "https://cdn.example.com/b.mp3", Type: "audio/mpeg", Length: 512}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").
		WithArgs(url, "a", "Entry a", "https://example.com/a", ts, []string{"Jane"}, []string{"go", "rss"}, "<p>a</p>", []feed.Enclosure(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO entries").
		WithArgs(url, "b", "Entry b", "https://example.com/b", ts, []string{}, pgxmock.AnyArg(), "<p>b</p>", second.Enclosures).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	added, err := store.AddEntries(context.Background(), url, []feed.Entry{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAddEntriesNothingToInsert(t *testing.T) {
	store, mock := newMockStore(t)

	added, err := store.AddEntries(context.Background(), "https://example.com/feed.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAddEntriesInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.AddEntries(context.Background(), "https://example.com/feed.xml", []feed.Entry{sampleEntry("a", ts)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEntries(t *testing.T) {
	store, mock := newMockStore(t)
	const url = "https://example.com/podcast.xml"
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	limit := 10
	episode := []feed.Enclosure{{URL: "https://cdn.example.com/ep1.mp3", Type: "audio/mpeg", Length: 2048}}

	mock.ExpectQuery("SELECT id, title, link, published_at, creators, categories, body, enclosures FROM entries").
		WithArgs(url, &limit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "link", "published_at", "creators", "categories", "body", "enclosures"}).
			AddRow("ep1", "Episode 1", "https://example.com/ep1", ts, []string{"Jane"}, []string{"audio"}, "<p>ep1</p>", episode).
			AddRow("post", "Post", "https://example.com/post", ts, []string{}, nil, "", nil))

	entries, err := store.ListEntries(context.Background(), url, limit)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, episode, entries[0].Enclosures)
	assert.Equal(t, time.UTC, entries[0].Timestamp.Location())
	assert.Nil(t, entries[1].Enclosures)
	assert.Nil(t, entries[1].Categories)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertSubscription(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE feeds SET name = NULL").
		WithArgs("alpha", "https://alpha.example.com/feed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO feeds").
		WithArgs("https://alpha.example.com/feed", "alpha", true, 15).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.UpsertSubscription(context.Background(), SubscriptionConfig{
		Name:    "alpha",
		URL:     "https://alpha.example.com/feed",
		Enabled: true,
		Timeout: 15 * time.Second,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListSubscriptions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{"url", "name", "enabled", "timeout_seconds", "title", "site", "icon", "etag", "last_modified", "created_at", "updated_at"}
	mock.ExpectQuery("FROM feeds WHERE enabled").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("https://alpha.example.com/feed", "alpha", true, 15, "Alpha", "https://alpha.example.com/", "", `"v1"`, "", now, now))

	subs, err := store.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, feed.Subscription{
		Name:    "alpha",
		URL:     "https://alpha.example.com/feed",
		Caching: feed.CachingState{ETag: `"v1"`},
		Timeout: 15 * time.Second,
	}, subs[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetFeedNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{"url", "name", "enabled", "timeout_seconds", "title", "site", "icon", "etag", "last_modified", "created_at", "updated_at"}
	mock.ExpectQuery("FROM feeds WHERE name").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(columns))

	record, err := store.GetFeed(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateFeedMetadata(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE feeds SET").
		WithArgs("https://example.com/feed.xml", "Example", "", "", `"v2"`, "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateFeedMetadata(context.Background(), "https://example.com/feed.xml", feed.Feed{
		Title:   "Example",
		Caching: feed.CachingState{ETag: `"v2"`},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogCrawlOutcome(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO crawl_log").
		WithArgs("id-1", "https://example.com/feed.xml", feed.StatusMalformed, "text/xml", 0, "unexpected EOF", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.LogCrawlOutcome(context.Background(), feed.CrawlOutcome{
		ID:          "id-1",
		FeedURL:     "https://example.com/feed.xml",
		Status:      feed.StatusMalformed,
		ContentType: "text/xml",
		Error:       "unexpected EOF",
		Timestamp:   ts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentOutcomes(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	limit := 10
	mock.ExpectQuery("FROM crawl_log").
		WithArgs(&limit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "feed_url", "status", "content_type", "new_entries", "error", "crawled_at"}).
			AddRow("id-2", "https://example.com/feed.xml", 200, "application/rss+xml", 3, "", ts))

	outcomes, err := store.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 3, outcomes[0].NewEntries)
	assert.True(t, ts.Equal(outcomes[0].Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}
