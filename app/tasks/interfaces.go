package tasks

import (
	"context"

	"github.com/lysyi3m/rss-skim/app/feed"
)

// TaskSchedulerInterface is what main and the API use to drive background
// work.
//
//	scheduler := NewScheduler(configCache, store, crawler, interval, workerCount)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(scheduler.NewCrawlTask(""))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	NewCrawlTask(feedName string) *CrawlTask
	NewSyncSubscriptionsTask() *SyncSubscriptionsTask
}

type Crawler interface {
	Crawl(ctx context.Context, subs []feed.Subscription) []feed.CrawlOutcome
}
