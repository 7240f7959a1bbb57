package feed

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/araddon/dateparse"
)

var eastern = mustLoadLocation("America/New_York")

// US Eastern abbreviations are common in hand-written feeds and resolve
// through the America/New_York zone table rather than as fixed offsets.
var zoneLocations = map[string]*time.Location{
	"EDT": eastern,
	"EST": eastern,
}

// Layouts tried when the flexible parser gives up.
var fallbackLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2006-01-02",
}

var ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)

var dateKeys = []string{"pubDate", "atom:updated", "atom:published", "dc:date"}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("failed to load location %s: %v", name, err))
	}
	return loc
}

// ParseDate parses a feed date. Values without a zone are taken as US
// Eastern time.
func ParseDate(raw string) (time.Time, error) {
	cleaned := ordinalSuffix.ReplaceAllString(strings.TrimSpace(raw), "$1")
	if cleaned == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	loc := eastern
	for abbreviation, zone := range zoneLocations {
		if strings.HasSuffix(cleaned, " "+abbreviation) {
			loc = zone
		}
	}

	parsed, err := parseIn(cleaned, loc)
	if err == nil {
		return parsed, nil
	}

	for _, layout := range fallbackLayouts {
		if parsed, layoutErr := time.ParseInLocation(layout, cleaned, loc); layoutErr == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse date %q: %w", raw, err)
}

// EntryDate resolves the timestamp of an entry in UTC.
//
// Date-only values from the last 24 hours come out as midnight, which would
// sort them below older entries that carry a time, so those use the crawl
// time. Missing, unparseable and future dates use the crawl time too.
func EntryDate(raw string, crawledAt time.Time) time.Time {
	now := crawledAt.UTC()

	if strings.TrimSpace(raw) == "" {
		return now
	}

	parsed, err := ParseDate(raw)
	if err != nil {
		slog.Debug("Using crawl time for unparseable date", "date", raw, "error", err)
		return now
	}

	if parsed.After(now) {
		return now
	}

	if now.Sub(parsed) < 24*time.Hour && isMidnight(parsed) {
		return now
	}

	return parsed.UTC()
}

// dateparse panics on some malformed input.
func parseIn(value string, loc *time.Location) (parsed time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("date parser panicked: %v", r)
		}
	}()
	return dateparse.ParseIn(value, loc)
}

func isMidnight(t time.Time) bool {
	hour, minute, second := t.Clock()
	return hour == 0 && minute == 0 && second == 0 && t.Nanosecond() == 0
}
