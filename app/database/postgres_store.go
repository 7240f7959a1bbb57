package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/lysyi3m/rss-skim/app/feed"
)

var _ Store = (*PostgresStore)(nil)

// pgxPool is the subset of *pgxpool.Pool the store uses, so pgxmock can
// stand in for it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore connects to dsn and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	version, dirty, err := RunPostgresMigrations(db)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Debug("Postgres migrations applied", "version", version, "dirty", dirty)

	return &PostgresStore{pool: pool}, nil
}

func NewPostgresStoreWithPool(pool pgxPool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub SubscriptionConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE feeds SET name = NULL, enabled = FALSE, updated_at = NOW()
		WHERE name = $1 AND url <> $2
	`, sub.Name, sub.URL)
	if err != nil {
		return fmt.Errorf("failed to retire previous feed url: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO feeds (url, name, enabled, timeout_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			timeout_seconds = EXCLUDED.timeout_seconds,
			updated_at = NOW()
	`, sub.URL, sub.Name, sub.Enabled, int(sub.Timeout/time.Second))
	if err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

const postgresFeedColumns = `url, COALESCE(name, ''), enabled, timeout_seconds, title, site, icon, etag, last_modified, created_at, updated_at`

func scanPostgresFeed(row pgx.Row) (*FeedRecord, error) {
	var record FeedRecord
	var timeoutSeconds int

	err := row.Scan(&record.URL, &record.Name, &record.Enabled, &timeoutSeconds,
		&record.Title, &record.Site, &record.Icon,
		&record.Caching.ETag, &record.Caching.LastModified,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.Timeout = time.Duration(timeoutSeconds) * time.Second
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]feed.Subscription, error) {
	records, err := s.queryFeeds(ctx, `SELECT `+postgresFeedColumns+` FROM feeds WHERE enabled AND name IS NOT NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}

	subs := make([]feed.Subscription, 0, len(records))
	for _, record := range records {
		subs = append(subs, record.Subscription())
	}
	return subs, nil
}

func (s *PostgresStore) ListFeeds(ctx context.Context) ([]FeedRecord, error) {
	return s.queryFeeds(ctx, `SELECT `+postgresFeedColumns+` FROM feeds ORDER BY COALESCE(name, ''), url`)
}

func (s *PostgresStore) queryFeeds(ctx context.Context, query string) ([]FeedRecord, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query feeds: %w", err)
	}
	defer rows.Close()

	var records []FeedRecord
	for rows.Next() {
		record, err := scanPostgresFeed(rows)
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

func (s *PostgresStore) GetFeed(ctx context.Context, name string) (*FeedRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresFeedColumns+` FROM feeds WHERE name = $1`, name)
	record, err := scanPostgresFeed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) UpdateFeedMetadata(ctx context.Context, feedURL string, f feed.Feed) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE feeds SET
			title = COALESCE(NULLIF($2, ''), title),
			site = COALESCE(NULLIF($3, ''), site),
			icon = COALESCE(NULLIF($4, ''), icon),
			etag = $5,
			last_modified = $6,
			updated_at = NOW()
		WHERE url = $1
	`, feedURL, f.Title, f.Site, f.Icon, f.Caching.ETag, f.Caching.LastModified)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddEntries(ctx context.Context, feedURL string, entries []feed.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	added := 0
	for _, entry := range entries {
		creators := entry.Creators
		if creators == nil {
			creators = []string{}
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO entries (feed_url, id, title, link, published_at, creators, categories, body, enclosures)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (feed_url, id) DO NOTHING
		`, feedURL, entry.ID, entry.Title, entry.Link, entry.Timestamp.UTC(), creators, entry.Categories, entry.Body, enclosures(entry))
		if err != nil {
			return 0, fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
		}
		added += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit entries: %w", err)
	}
	return added, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, feedURL string, limit int) ([]feed.Entry, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, link, published_at, creators, categories, body, enclosures
		FROM entries
		WHERE feed_url = $1
		ORDER BY published_at DESC, id
		LIMIT $2
	`, feedURL, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []feed.Entry
	for rows.Next() {
		var entry feed.Entry
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Link, &entry.Timestamp, &entry.Creators, &entry.Categories, &entry.Body, &entry.Enclosures); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) LogCrawlOutcome(ctx context.Context, outcome feed.CrawlOutcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_log (id, feed_url, status, content_type, new_entries, error, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, outcome.ID, outcome.FeedURL, outcome.Status, outcome.ContentType, outcome.NewEntries, outcome.Error, outcome.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to log crawl outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentOutcomes(ctx context.Context, limit int) ([]feed.CrawlOutcome, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, feed_url, status, content_type, new_entries, error, crawled_at
		FROM crawl_log
		ORDER BY crawled_at DESC
		LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl log: %w", err)
	}
	defer rows.Close()

	var outcomes []feed.CrawlOutcome
	for rows.Next() {
		var outcome feed.CrawlOutcome
		if err := rows.Scan(&outcome.ID, &outcome.FeedURL, &outcome.Status, &outcome.ContentType, &outcome.NewEntries, &outcome.Error, &outcome.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan crawl outcome: %w", err)
		}
		outcome.Timestamp = outcome.Timestamp.UTC()
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crawl log: %w", err)
	}
	return outcomes, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
