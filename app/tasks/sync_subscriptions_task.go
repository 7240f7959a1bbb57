package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
)

// SyncSubscriptionsTask rereads the feeds directory and mirrors it into the
// store. Feeds whose file is gone are disabled, not deleted, so their
// entries and crawl history survive.
type SyncSubscriptionsTask struct {
	Task
	configCache *feed.ConfigCache
	store       database.Store
}

func NewSyncSubscriptionsTask(configCache *feed.ConfigCache, store database.Store) *SyncSubscriptionsTask {
	return &SyncSubscriptionsTask{
		Task:        NewTask(TaskTypeSyncSubscriptions, ""),
		configCache: configCache,
		store:       store,
	}
}

func (t *SyncSubscriptionsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.configCache.Run(); err != nil {
		slog.Error("Task failed", "type", string(t.Type), "error", err)
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}

	configs := t.configCache.GetConfigs()
	for name, config := range configs {
		err := t.store.UpsertSubscription(ctx, database.SubscriptionConfig{
			Name:    name,
			URL:     config.URL,
			Enabled: config.IsEnabled(),
			Timeout: config.TimeoutDuration(),
		})
		if err != nil {
			slog.Error("Task failed", "type", string(t.Type), "feed", name, "error", err)
			return fmt.Errorf("failed to sync feed config to database: %w", err)
		}
	}

	records, err := t.store.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list feeds: %w", err)
	}

	disabled := 0
	for _, record := range records {
		if record.Name == "" || !record.Enabled {
			continue
		}
		if _, ok := configs[record.Name]; ok {
			continue
		}

		err := t.store.UpsertSubscription(ctx, database.SubscriptionConfig{
			Name:    record.Name,
			URL:     record.URL,
			Enabled: false,
			Timeout: record.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to disable feed %s: %w", record.Name, err)
		}
		disabled++
		slog.Info("Feed disabled, configuration removed", "feed", record.Name, "url", record.URL)
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"feeds", len(configs),
		"disabled", disabled,
		"duration", t.GetDuration())

	return nil
}
