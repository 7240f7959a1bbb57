package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

func DefaultUserAgent() string {
	return "RSS-Skim/" + GetVersion() + " (+https://github.com/lysyi3m/rss-skim)"
}

type rawCfg struct {
	// Storage
	Store       string `long:"store" env:"STORE" default:"sqlite" choice:"sqlite" choice:"postgres" choice:"memory" description:"Storage backend"`
	SQLitePath  string `long:"sqlite-path" env:"SQLITE_PATH" default:"./data/skim.db" description:"SQLite database file" validate:"required_if=Store sqlite"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"Postgres connection string (required for --store=postgres)" validate:"required_if=Store postgres"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for scheduled tasks" validate:"gte=1"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"900" description:"Seconds between crawl cycles" validate:"gte=1"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	Once              bool   `long:"once" env:"ONCE" description:"Run a single crawl cycle and exit"`

	// Crawler
	Concurrency  int               `long:"concurrency" env:"CONCURRENCY" default:"8" description:"Feeds fetched in parallel per batch" validate:"gte=1,lte=256"`
	FetchTimeout int               `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Default per-feed fetch timeout in seconds" validate:"gte=1"`
	MediaTypes   map[string]string `long:"media-type" env:"MEDIA_TYPES" env-delim:"," key-value-delimiter:"=" default:"image/=image" default:"audio/=audio" default:"video/=video" description:"Enclosure MIME prefix and the markup it renders as (image, audio or video)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for log timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load reads an optional .env file, then flags and environment. It returns
// nil, nil when help was requested.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := Parse(os.Args[1:])
	if err != nil || cfg == nil {
		return cfg, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

// Parse builds a Cfg from command line arguments and the environment.
func Parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Cfg{
		Store:             raw.Store,
		SQLitePath:        raw.SQLitePath,
		DatabaseURL:       raw.DatabaseURL,
		FeedsDir:          raw.FeedsDir,
		Port:              raw.Port,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: time.Duration(raw.SchedulerInterval) * time.Second,
		APIAccessKey:      raw.APIAccessKey,
		Once:              raw.Once,
		Concurrency:       raw.Concurrency,
		FetchTimeout:      time.Duration(raw.FetchTimeout) * time.Second,
		MediaTypes:        raw.MediaTypes,
		UserAgent:         cmp.Or(raw.UserAgent, DefaultUserAgent()),
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}, nil
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	slog.Debug("Timezone configured", "timezone", timezone)
	return nil
}
