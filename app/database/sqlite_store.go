package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lysyi3m/rss-skim/app/feed"
)

var _ Store = (*SQLiteStore)(nil)

// Fixed width so stored times sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database file at path and applies
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"busy_timeout(5000)", "journal_mode(WAL)"},
		"_txlock": []string{"immediate"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	version, dirty, err := RunSQLiteMigrations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("SQLite migrations applied", "path", path, "version", version, "dirty", dirty)

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// encodeList stores a slice as JSON text. A nil slice is stored as NULL.
func encodeList[T any](values []T) (any, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeList[T any](data sql.NullString) ([]T, error) {
	if !data.Valid {
		return nil, nil
	}
	var values []T
	if err := json.Unmarshal([]byte(data.String), &values); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return values, nil
}

func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub SubscriptionConfig) error {
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE feeds SET name = NULL, enabled = 0, updated_at = ?
		WHERE name = ? AND url <> ?
	`, now, sub.Name, sub.URL)
	if err != nil {
		return fmt.Errorf("failed to retire previous feed url: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feeds (url, name, enabled, timeout_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			timeout_seconds = excluded.timeout_seconds,
			updated_at = excluded.updated_at
	`, sub.URL, sub.Name, sub.Enabled, int(sub.Timeout/time.Second), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

const sqliteFeedColumns = `url, COALESCE(name, ''), enabled, timeout_seconds, title, site, icon, etag, last_modified, created_at, updated_at`

func scanSQLiteFeed(row interface{ Scan(...any) error }) (*FeedRecord, error) {
	var record FeedRecord
	var timeoutSeconds int
	var createdAt, updatedAt string

	err := row.Scan(&record.URL, &record.Name, &record.Enabled, &timeoutSeconds,
		&record.Title, &record.Site, &record.Icon,
		&record.Caching.ETag, &record.Caching.LastModified,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	record.Timeout = time.Duration(timeoutSeconds) * time.Second
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context) ([]feed.Subscription, error) {
	records, err := s.queryFeeds(ctx, `SELECT `+sqliteFeedColumns+` FROM feeds WHERE enabled = 1 AND name IS NOT NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}

	subs := make([]feed.Subscription, 0, len(records))
	for _, record := range records {
		subs = append(subs, record.Subscription())
	}
	return subs, nil
}

func (s *SQLiteStore) ListFeeds(ctx context.Context) ([]FeedRecord, error) {
	return s.queryFeeds(ctx, `SELECT `+sqliteFeedColumns+` FROM feeds ORDER BY COALESCE(name, ''), url`)
}

func (s *SQLiteStore) queryFeeds(ctx context.Context, query string, args ...any) ([]FeedRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feeds: %w", err)
	}
	defer rows.Close()

	var records []FeedRecord
	for rows.Next() {
		record, err := scanSQLiteFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feeds: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) GetFeed(ctx context.Context, name string) (*FeedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteFeedColumns+` FROM feeds WHERE name = ?`, name)
	record, err := scanSQLiteFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) UpdateFeedMetadata(ctx context.Context, feedURL string, f feed.Feed) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET
			title = COALESCE(NULLIF(?, ''), title),
			site = COALESCE(NULLIF(?, ''), site),
			icon = COALESCE(NULLIF(?, ''), icon),
			etag = ?,
			last_modified = ?,
			updated_at = ?
		WHERE url = ?
	`, f.Title, f.Site, f.Icon, f.Caching.ETag, f.Caching.LastModified, formatTime(s.now()), feedURL)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddEntries(ctx context.Context, feedURL string, entries []feed.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (feed_url, id, title, link, published_at, creators, categories, body, enclosures, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_url, id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(s.now())
	added := 0
	for _, entry := range entries {
		creators := entry.Creators
		if creators == nil {
			creators = []string{}
		}
		encodedCreators, err := encodeList(creators)
		if err != nil {
			return 0, fmt.Errorf("failed to encode creators: %w", err)
		}
		encodedCategories, err := encodeList(entry.Categories)
		if err != nil {
			return 0, fmt.Errorf("failed to encode categories: %w", err)
		}
		encodedEnclosures, err := encodeList(enclosures(entry))
		if err != nil {
			return 0, fmt.Errorf("failed to encode enclosures: %w", err)
		}

		result, err := stmt.ExecContext(ctx, feedURL, entry.ID, entry.Title, entry.Link,
			formatTime(entry.Timestamp), encodedCreators, encodedCategories, entry.Body, encodedEnclosures, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count inserted entries: %w", err)
		}
		added += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit entries: %w", err)
	}
	return added, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, feedURL string, limit int) ([]feed.Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, link, published_at, creators, categories, body, enclosures
		FROM entries
		WHERE feed_url = ?
		ORDER BY published_at DESC, id
		LIMIT ?
	`, feedURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []feed.Entry
	for rows.Next() {
		var entry feed.Entry
		var publishedAt string
		var creators, categories, enclosures sql.NullString

		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Link, &publishedAt, &creators, &categories, &entry.Body, &enclosures); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if entry.Timestamp, err = parseTime(publishedAt); err != nil {
			return nil, err
		}
		if entry.Creators, err = decodeList[string](creators); err != nil {
			return nil, err
		}
		if entry.Categories, err = decodeList[string](categories); err != nil {
			return nil, err
		}
		if entry.Enclosures, err = decodeList[feed.Enclosure](enclosures); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) LogCrawlOutcome(ctx context.Context, outcome feed.CrawlOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_log (id, feed_url, status, content_type, new_entries, error, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, outcome.ID, outcome.FeedURL, outcome.Status, outcome.ContentType, outcome.NewEntries, outcome.Error, formatTime(outcome.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to log crawl outcome: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentOutcomes(ctx context.Context, limit int) ([]feed.CrawlOutcome, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_url, status, content_type, new_entries, error, crawled_at
		FROM crawl_log
		ORDER BY crawled_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl log: %w", err)
	}
	defer rows.Close()

	var outcomes []feed.CrawlOutcome
	for rows.Next() {
		var outcome feed.CrawlOutcome
		var crawledAt string
		if err := rows.Scan(&outcome.ID, &outcome.FeedURL, &outcome.Status, &outcome.ContentType, &outcome.NewEntries, &outcome.Error, &crawledAt); err != nil {
			return nil, fmt.Errorf("failed to scan crawl outcome: %w", err)
		}
		if outcome.Timestamp, err = parseTime(crawledAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crawl log: %w", err)
	}
	return outcomes, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
