package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-skim/app/cfg"
	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
	"github.com/lysyi3m/rss-skim/app/tasks"
)

const (
	defaultEntriesLimit  = 50
	defaultOutcomesLimit = 100
	maxLimit             = 1000
)

func NewHandler(configCache *feed.ConfigCache, store database.Store, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		store:       store,
		configCache: configCache,
		scheduler:   scheduler,
		startedAt:   time.Now(),
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp":             time.Now().In(time.Local).Format(time.RFC3339),
		"version":               cfg.GetVersion(),
		"uptime":                time.Since(h.startedAt).Round(time.Second).String(),
		"loaded_configurations": h.configCache.GetConfigCount(),
	}

	if subs, err := h.store.ListSubscriptions(c.Request.Context()); err == nil {
		health["feeds"] = len(subs)
	} else {
		slog.Error("Database error", "operation", "list_subscriptions", "error", err)
		health["database"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListFeeds(c *gin.Context) {
	records, err := h.store.ListFeeds(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	feeds := make([]feedResponse, 0, len(records))
	for _, record := range records {
		if record.Name == "" {
			continue
		}
		feeds = append(feeds, newFeedResponse(record))
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) GetFeedDetails(c *gin.Context) {
	record, ok := h.lookupFeed(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newFeedResponse(*record))
}

func (h *Handler) ListEntries(c *gin.Context) {
	limit, ok := parseLimit(c, defaultEntriesLimit)
	if !ok {
		return
	}

	record, ok := h.lookupFeed(c)
	if !ok {
		return
	}

	entries, err := h.store.ListEntries(c.Request.Context(), record.URL, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_entries", "feed", record.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, newEntryResponse(entry))
	}

	c.Header("X-Feed-Entries", strconv.Itoa(len(resp)))
	c.JSON(http.StatusOK, gin.H{
		"feed":    record.Name,
		"entries": resp,
		"total":   len(resp),
	})
}

func (h *Handler) ListOutcomes(c *gin.Context) {
	limit, ok := parseLimit(c, defaultOutcomesLimit)
	if !ok {
		return
	}

	outcomes, err := h.store.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "recent_outcomes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]outcomeResponse, 0, len(outcomes))
	for _, outcome := range outcomes {
		resp = append(resp, newOutcomeResponse(outcome))
	}

	c.JSON(http.StatusOK, gin.H{
		"outcomes": resp,
		"total":    len(resp),
	})
}

// TriggerCrawl queues a crawl of every enabled feed, or of the one named in
// the path.
func (h *Handler) TriggerCrawl(c *gin.Context) {
	name := c.Param("name")
	if name != "" {
		record, ok := h.lookupFeed(c)
		if !ok {
			return
		}
		if !record.Enabled {
			c.JSON(http.StatusConflict, gin.H{"error": "Feed is disabled"})
			return
		}
	}

	task := h.scheduler.NewCrawlTask(name)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing crawl task", "feed", name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue crawl task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
			"feed": name,
		},
	})
}

func (h *Handler) ReloadSubscriptions(c *gin.Context) {
	task := h.scheduler.NewSyncSubscriptionsTask()
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing sync task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}

func (h *Handler) lookupFeed(c *gin.Context) (*database.FeedRecord, bool) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed name parameter"})
		return nil, false
	}

	record, err := h.store.GetFeed(c.Request.Context(), name)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, false
	}
	return record, true
}

func parseLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(limit, maxLimit), true
}
