package feed

import (
	"fmt"
	"html"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"sort"
	"strings"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// MediaRule maps enclosure types starting with Prefix to the markup Kind
// used to embed them.
type MediaRule struct {
	Prefix string
	Kind   MediaKind
}

var DefaultMediaRules = []MediaRule{
	{Prefix: "image/", Kind: MediaImage},
	{Prefix: "audio/", Kind: MediaAudio},
	{Prefix: "video/", Kind: MediaVideo},
}

// ParseMediaRules builds rules from prefix to kind pairs, as given by the
// --media-type option.
func ParseMediaRules(pairs map[string]string) ([]MediaRule, error) {
	rules := make([]MediaRule, 0, len(pairs))
	for prefix, kind := range pairs {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix == "" {
			return nil, fmt.Errorf("media type prefix is empty")
		}
		switch MediaKind(kind) {
		case MediaImage, MediaAudio, MediaVideo:
		default:
			return nil, fmt.Errorf("unknown media kind %q for prefix %q", kind, prefix)
		}
		rules = append(rules, MediaRule{Prefix: prefix, Kind: MediaKind(kind)})
	}
	return sortRules(rules), nil
}

// Longer prefixes are checked first so "image/svg" can override "image/".
func sortRules(rules []MediaRule) []MediaRule {
	sorted := append([]MediaRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Prefix) != len(sorted[j].Prefix) {
			return len(sorted[i].Prefix) > len(sorted[j].Prefix)
		}
		return sorted[i].Prefix < sorted[j].Prefix
	})
	return sorted
}

func (n *Normalizer) mediaKind(mediaType string) (MediaKind, bool) {
	mediaType = strings.ToLower(mediaType)
	for _, rule := range n.mediaRules {
		if strings.HasPrefix(mediaType, rule.Prefix) {
			return rule.Kind, true
		}
	}
	return "", false
}

// enclosureMarkup renders the enclosures whose URL is not among the body's
// links.
func (n *Normalizer) enclosureMarkup(enclosures []Enclosure, refs map[string]bool) string {
	var parts []string
	for _, enclosure := range enclosures {
		if enclosure.URL == "" || refs[enclosure.URL] {
			continue
		}

		kind, ok := n.mediaKind(enclosure.Type)
		if !ok {
			slog.Warn("Skipping enclosure with unrecognized media type", "url", enclosure.URL, "type", enclosure.Type)
			continue
		}

		src := html.EscapeString(enclosure.URL)
		mediaType := html.EscapeString(enclosure.Type)
		switch kind {
		case MediaImage:
			parts = append(parts, `<picture><img src="`+src+`"/></picture>`)
		case MediaAudio:
			parts = append(parts, `<audio controls=""><source src="`+src+`" type="`+mediaType+`"/></audio>`)
		case MediaVideo:
			parts = append(parts, `<video controls=""><source src="`+src+`" type="`+mediaType+`"/></video>`)
		}
	}
	return strings.Join(parts, "\n")
}

// The builtin mime table only knows a handful of web types; the system
// table may be missing entirely in containers.
var mediaExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// guessMediaType derives a type from the file extension of an enclosure URL.
func guessMediaType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return ""
	}
	if mediaType, _, _ := strings.Cut(mime.TypeByExtension(ext), ";"); mediaType != "" {
		return mediaType
	}
	return mediaExtensions[ext]
}
