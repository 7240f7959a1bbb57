package feed

import (
	"time"
)

// Canonical records

type CachingState struct {
	ETag         string
	LastModified string
}

func (c CachingState) IsZero() bool {
	return c.ETag == "" && c.LastModified == ""
}

type Feed struct {
	Title   string
	Site    string // Homepage URL
	Icon    string
	Caching CachingState
}

type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Length int64  `json:"length,omitempty"`
}

type Entry struct {
	ID         string
	Title      string
	Link       string
	Timestamp  time.Time // Always UTC
	Creators   []string
	Categories []string // nil when the source has none
	Body       string   // Normalized HTML, empty when the source has none
	Enclosures []Enclosure
}

type Subscription struct {
	Name    string
	URL     string
	Caching CachingState
	Timeout time.Duration // Zero means the crawler default
}

// Crawl log

const (
	StatusTransportError = -1
	StatusMalformed      = -2
	StatusUnrecognized   = -3
	StatusUnexpected     = -4
)

type CrawlOutcome struct {
	ID          string
	FeedURL     string
	Status      int // HTTP status or one of the negative Status* sentinels
	ContentType string
	NewEntries  int
	Error       string
	Timestamp   time.Time
}

func StatusText(status int) string {
	switch status {
	case StatusTransportError:
		return "transport_error"
	case StatusMalformed:
		return "malformed"
	case StatusUnrecognized:
		return "unrecognized"
	case StatusUnexpected:
		return "unexpected"
	}
	switch {
	case status == 304:
		return "not_modified"
	case status >= 200 && status < 300:
		return "ok"
	default:
		return "http_error"
	}
}

// Configuration types

type Config struct {
	Name     string         `yaml:"-" validate:"required"` // Derived from filename (without .yml extension)
	URL      string         `yaml:"url" validate:"required,url"`
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled *bool `yaml:"enabled"`
	Timeout int   `yaml:"timeout" validate:"gte=0"` // seconds
}

func (c *Config) IsEnabled() bool {
	return c.Settings.Enabled == nil || *c.Settings.Enabled
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Settings.Timeout) * time.Second
}
