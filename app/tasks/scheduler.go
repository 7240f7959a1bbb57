package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultInterval    = 15 * time.Minute
	DefaultQueueSize   = 300
	DefaultTaskTimeout = 5 * time.Minute
	maxRetryDelay      = 30 * time.Second
)

type Scheduler struct {
	configCache *feed.ConfigCache
	store       database.Store
	crawler     Crawler
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
	crawling    atomic.Bool
}

func NewScheduler(configCache *feed.ConfigCache, store database.Store, crawler Crawler,
	interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if workerCount <= 0 {
		workerCount = 1
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		configCache: configCache,
		store:       store,
		crawler:     crawler,
		interval:    interval,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, DefaultQueueSize),
	}
}

func (s *Scheduler) NewCrawlTask(feedName string) *CrawlTask {
	return NewCrawlTask(feedName, s.store, s.crawler, &s.crawling)
}

func (s *Scheduler) NewSyncSubscriptionsTask() *SyncSubscriptionsTask {
	return NewSyncSubscriptionsTask(s.configCache, s.store)
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runCycle()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runCycle()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// runCycle syncs subscriptions and queues a crawl. A tick that lands while
// the previous crawl is still running is dropped.
func (s *Scheduler) runCycle() {
	if s.crawling.Load() {
		slog.Debug("Crawl still in progress, skipping scheduled cycle")
		return
	}

	syncTask := s.NewSyncSubscriptionsTask()
	syncTask.Start()
	if err := syncTask.Execute(s.ctx); err != nil {
		slog.Warn("Failed to sync subscriptions, crawling known feeds", "error", err)
	}

	crawlTask := s.NewCrawlTask("")
	if err := s.EnqueueTask(crawlTask); err != nil {
		slog.Warn("Failed to enqueue CrawlTask", "id", crawlTask.ID, "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := s.taskContext(task)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	delay := retryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

	go func() {
		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		case <-time.After(delay):
		}
		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}

func (s *Scheduler) taskContext(task TaskInterface) (context.Context, context.CancelFunc) {
	if timeout := task.GetTimeout(); timeout > 0 {
		return context.WithTimeout(s.ctx, timeout)
	}
	return context.WithCancel(s.ctx)
}

func retryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := time.Duration(1<<uint(retryCount-1)) * time.Second
	return min(delay, maxRetryDelay)
}
