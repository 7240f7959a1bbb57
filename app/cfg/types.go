package cfg

import "time"

type Cfg struct {
	// Storage
	Store       string
	SQLitePath  string
	DatabaseURL string

	// Application configuration
	FeedsDir          string
	Port              string
	WorkerCount       int
	SchedulerInterval time.Duration
	APIAccessKey      string
	Once              bool

	// Crawler
	Concurrency  int
	FetchTimeout time.Duration
	MediaTypes   map[string]string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
