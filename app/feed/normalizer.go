package feed

import (
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/rss-skim/app/xmltree"
)

var (
	feedTitleKeys = []string{"title", "atom:title", "description"}
	titleKeys     = []string{"title", "atom:title"}
	linkKeys      = []string{"link", "atom:link", "atom:link[alternate]"}
	iconKeys      = []string{"atom:icon", "atom:logo"}
	idKeys        = []string{"id", "atom:id", "guid", "link", "atom:link[alternate]"}
	bodyKeys      = []string{"atom:content", "content:encoded", "content", "atom:summary", "summary", "description"}
	creatorKeys   = []string{"dc:creator", "atom:author"}
	nameKeys      = []string{"atom:name", "name"}
	categoryKeys  = []string{"category", "atom:category"}
)

// Normalizer turns generic element trees into canonical feed and entry
// records. It is safe for concurrent use.
type Normalizer struct {
	mediaRules []MediaRule
}

type Option func(*Normalizer)

func WithMediaRules(rules []MediaRule) Option {
	return func(n *Normalizer) {
		if len(rules) > 0 {
			n.mediaRules = sortRules(rules)
		}
	}
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{mediaRules: sortRules(DefaultMediaRules)}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) Feed(tree xmltree.Node) Feed {
	icon := firstText(tree, iconKeys...)
	if icon == "" {
		if image, ok := tree.Path("image", "url"); ok {
			icon = text(image)
		}
	}

	return Feed{
		Title: firstText(tree, feedTitleKeys...),
		Site:  firstText(tree, linkKeys...),
		Icon:  icon,
	}
}

func (n *Normalizer) Entries(feedURL string, trees []xmltree.Node, crawledAt time.Time) []Entry {
	entries := make([]Entry, 0, len(trees))
	for _, tree := range trees {
		entries = append(entries, n.Entry(feedURL, tree, crawledAt))
	}
	return entries
}

func (n *Normalizer) Entry(feedURL string, tree xmltree.Node, crawledAt time.Time) Entry {
	link := firstText(tree, linkKeys...)
	timestamp := EntryDate(firstText(tree, dateKeys...), crawledAt)

	id := firstText(tree, idKeys...)
	if id == "" {
		id = feedURL + "#" + timestamp.Format(time.RFC3339)
	}

	base := link
	if base == "" {
		base = feedURL
	}

	enclosures := enclosures(tree)

	raw := firstText(tree, bodyKeys...)
	if raw == "" {
		raw = videoEmbed(tree, link)
	}

	return Entry{
		ID:         id,
		Title:      firstText(tree, titleKeys...),
		Link:       link,
		Timestamp:  timestamp,
		Creators:   creators(tree),
		Categories: categories(tree),
		Body:       n.body(raw, base, enclosures),
		Enclosures: enclosures,
	}
}

func (n *Normalizer) body(raw, base string, enclosures []Enclosure) string {
	body, refs := normalizeMarkup(raw, base)
	media := n.enclosureMarkup(enclosures, refs)
	switch {
	case media == "":
		return body
	case body == "":
		return media
	default:
		return media + "\n" + body
	}
}

// text returns the trimmed text of a node. Lists yield their first
// non-empty item; maps have no text.
func text(node xmltree.Node) string {
	return xmltree.Match(node,
		func(s string) string { return strings.TrimSpace(s) },
		func(items []xmltree.Node) string {
			for _, item := range items {
				if t := text(item); t != "" {
					return t
				}
			}
			return ""
		},
		func(xmltree.Node) string { return "" },
	)
}

func firstText(tree xmltree.Node, keys ...string) string {
	for _, key := range keys {
		if node, ok := tree.Get(key); ok {
			if t := text(node); t != "" {
				return t
			}
		}
	}
	return ""
}

func creators(tree xmltree.Node) []string {
	var names []string
	seen := make(map[string]bool)

	var collect func(node xmltree.Node)
	collect = func(node xmltree.Node) {
		var name string
		switch node.Kind() {
		case xmltree.KindScalar:
			name = text(node)
		case xmltree.KindList:
			for _, item := range node.Items() {
				collect(item)
			}
			return
		case xmltree.KindMap:
			name = firstText(node, nameKeys...)
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, key := range creatorKeys {
		if node, ok := tree.Get(key); ok {
			collect(node)
		}
	}
	return names
}

func categories(tree xmltree.Node) []string {
	var result []string
	seen := make(map[string]bool)
	for _, key := range categoryKeys {
		node, ok := tree.Get(key)
		if !ok {
			continue
		}
		for _, item := range node.Items() {
			category := text(item)
			if category == "" || seen[category] {
				continue
			}
			seen[category] = true
			result = append(result, category)
		}
	}
	return result
}

func enclosures(tree xmltree.Node) []Enclosure {
	var result []Enclosure

	if node, ok := tree.Get("enclosure"); ok {
		for _, item := range node.Items() {
			enclosure := Enclosure{}
			if item.Kind() == xmltree.KindMap {
				enclosure.URL = firstText(item, "url")
				enclosure.Type = firstText(item, "type")
				enclosure.Length, _ = strconv.ParseInt(firstText(item, "length"), 10, 64)
			} else {
				enclosure.URL = text(item)
			}
			if enclosure.URL == "" {
				continue
			}
			if enclosure.Type == "" {
				enclosure.Type = guessMediaType(enclosure.URL)
			}
			result = append(result, enclosure)
		}
	}

	if node, ok := tree.Get("atom:link[enclosure]"); ok {
		for _, item := range node.Items() {
			href := text(item)
			if href == "" {
				continue
			}
			result = append(result, Enclosure{URL: href, Type: guessMediaType(href)})
		}
	}

	return result
}

// videoEmbed builds a player for video entries that carry no body, such as
// YouTube channel feeds.
func videoEmbed(tree xmltree.Node, link string) string {
	src := ""
	if id := firstText(tree, "yt:videoId"); id != "" {
		src = "https://www.youtube.com/embed/" + url.PathEscape(id)
	} else {
		src = embedURL(link)
	}
	if src == "" {
		return ""
	}

	embed := `<iframe src="` + html.EscapeString(src) + `" width="560" height="315" frameborder="0" allowfullscreen=""></iframe>`
	if description, ok := tree.Path("media:group", "media:description"); ok {
		if desc := text(description); desc != "" {
			embed += "\n" + paragraphs(desc)
		}
	}
	return embed
}

func embedURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch host {
	case "youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			if id := u.Query().Get("v"); id != "" {
				return "https://www.youtube.com/embed/" + url.PathEscape(id)
			}
		}
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" {
			return "https://www.youtube.com/embed/" + url.PathEscape(id)
		}
	case "vimeo.com":
		id := strings.Trim(u.Path, "/")
		if id != "" && isDigits(id) {
			return "https://player.vimeo.com/video/" + id
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
