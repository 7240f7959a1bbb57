package database

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/rss-skim/app/feed"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	entry     feed.Entry
	createdAt time.Time
}

// MemoryStore keeps everything in process memory. Entries live in one map
// per feed so concurrent crawls of different feeds only contend on the
// short lookups.
type MemoryStore struct {
	mu       sync.RWMutex
	feeds    map[string]*FeedRecord // by URL
	entries  map[string]*feedEntries
	outcomes []feed.CrawlOutcome
	now      func() time.Time
}

type feedEntries struct {
	mu   sync.Mutex
	byID map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		feeds:   make(map[string]*FeedRecord),
		entries: make(map[string]*feedEntries),
		now:     time.Now,
	}
}

func (s *MemoryStore) UpsertSubscription(ctx context.Context, sub SubscriptionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, record := range s.feeds {
		if record.Name == sub.Name && record.URL != sub.URL {
			record.Name = ""
			record.Enabled = false
			record.UpdatedAt = now
		}
	}

	record, ok := s.feeds[sub.URL]
	if !ok {
		record = &FeedRecord{URL: sub.URL, CreatedAt: now}
		s.feeds[sub.URL] = record
	}
	record.Name = sub.Name
	record.Enabled = sub.Enabled
	record.Timeout = sub.Timeout
	record.UpdatedAt = now

	return nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context) ([]feed.Subscription, error) {
	records, err := s.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}

	var subs []feed.Subscription
	for _, record := range records {
		if record.Enabled {
			subs = append(subs, record.Subscription())
		}
	}
	return subs, nil
}

func (s *MemoryStore) ListFeeds(ctx context.Context) ([]FeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]FeedRecord, 0, len(s.feeds))
	for _, record := range s.feeds {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].URL < records[j].URL
	})
	return records, nil
}

func (s *MemoryStore) GetFeed(ctx context.Context, name string) (*FeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.feeds {
		if record.Name == name {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpdateFeedMetadata(ctx context.Context, url string, f feed.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	record, ok := s.feeds[url]
	if !ok {
		return nil
	}
	if f.Title != "" {
		record.Title = f.Title
	}
	if f.Site != "" {
		record.Site = f.Site
	}
	if f.Icon != "" {
		record.Icon = f.Icon
	}
	record.Caching = f.Caching
	record.UpdatedAt = now
	return nil
}

func (s *MemoryStore) feedEntries(url string) *feedEntries {
	s.mu.RLock()
	bucket, ok := s.entries[url]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok = s.entries[url]; !ok {
		bucket = &feedEntries{byID: make(map[string]memoryEntry)}
		s.entries[url] = bucket
	}
	return bucket
}

func (s *MemoryStore) AddEntries(ctx context.Context, url string, entries []feed.Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	bucket := s.feedEntries(url)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := s.now().UTC()
	added := 0
	for _, entry := range entries {
		if _, exists := bucket.byID[entry.ID]; exists {
			continue
		}
		entry.Enclosures = slices.Clone(enclosures(entry))
		bucket.byID[entry.ID] = memoryEntry{entry: entry, createdAt: now}
		added++
	}
	return added, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, feedURL string, limit int) ([]feed.Entry, error) {
	s.mu.RLock()
	bucket, ok := s.entries[feedURL]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	bucket.mu.Lock()
	stored := make([]memoryEntry, 0, len(bucket.byID))
	for _, e := range bucket.byID {
		stored = append(stored, e)
	}
	bucket.mu.Unlock()

	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i].entry, stored[j].entry
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}

	entries := make([]feed.Entry, 0, len(stored))
	for _, e := range stored {
		entry := e.entry
		entry.Creators = slices.Clone(entry.Creators)
		entry.Categories = slices.Clone(entry.Categories)
		entry.Enclosures = slices.Clone(entry.Enclosures)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *MemoryStore) LogCrawlOutcome(ctx context.Context, outcome feed.CrawlOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *MemoryStore) RecentOutcomes(ctx context.Context, limit int) ([]feed.CrawlOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcomes := slices.Clone(s.outcomes)
	slices.Reverse(outcomes)
	if limit > 0 && len(outcomes) > limit {
		outcomes = outcomes[:limit]
	}
	return outcomes, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
