package feed

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type urlPattern struct {
	host  string // Suffix of the hostname
	path  string // Substring of the path
	query string // Substring of the raw query
}

func (p urlPattern) matches(u *url.URL) bool {
	return strings.HasSuffix(u.Hostname(), p.host) &&
		strings.Contains(u.Path, p.path) &&
		strings.Contains(u.RawQuery, p.query)
}

func matchesAny(patterns []urlPattern, raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	for _, pattern := range patterns {
		if pattern.matches(u) {
			return true
		}
	}
	return false
}

// Images that only exist to count views or advertise a share button.
var trackerImages = []urlPattern{
	{host: "feeds.feedburner.com"},
	{host: ".feedsportal.com"},
	{host: "pixel.wp.com"},
	{host: "stats.wordpress.com"},
	{host: "www.google-analytics.com"},
	{host: "feeds.feedblitz.com"},
	{host: "pixel.quantserve.com"},
	{host: "a.fsdn.com", path: "twitter_icon"},
	{host: "a.fsdn.com", path: "facebook_icon"},
	{host: "www.gstatic.com", path: "images/icons/gplus-16.png"},
	{path: "social-media-feather/synved-social"},
}

var sharingLinks = []urlPattern{
	{host: "www.facebook.com", path: "/sharer.php"},
	{host: "www.facebook.com", path: "/share.php"},
	{host: "facebook.com", path: "/sharer/sharer.php"},
	{host: "twitter.com", path: "/home", query: "status="},
	{host: "twitter.com", path: "/intent/tweet"},
	{host: "twitter.com", path: "/share"},
	{host: "plus.google.com", path: "/share"},
	{host: "www.reddit.com", path: "/submit"},
	{host: "reddit.com", path: "/submit"},
	{host: "pinterest.com", path: "/pin/create"},
	{host: "www.linkedin.com", path: "/shareArticle"},
	{host: "www.tumblr.com", path: "/share"},
	{host: "www.stumbleupon.com", path: "/submit"},
	{host: "digg.com", path: "/submit"},
	{host: "del.icio.us", path: "/post"},
	{host: ".feedsportal.com", path: ".htm"},
	{host: "share.feedsportal.com"},
	{host: "api.addthis.com", path: "/oexchange"},
	{host: "feeds.wordpress.com", path: "/1.0/go"},
	{host: "feeds.feedburner.com", path: "/~ff/"},
}

var blankLines = regexp.MustCompile(`\n\s*\n`)

// normalizeMarkup cleans up an entry body. Plain text is split into
// paragraphs. Markup gets relative links resolved against base and loses
// tracking pixels and sharing links. The returned set holds every href and
// src left in the body.
func normalizeMarkup(raw, base string) (string, map[string]bool) {
	refs := make(map[string]bool)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", refs
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return paragraphs(html.UnescapeString(raw)), refs
	}

	body := doc.Find("body")
	if body.Find("*").Length() == 0 {
		return paragraphs(body.Text()), refs
	}

	if baseURL, err := url.Parse(base); err == nil && base != "" {
		body.Find("[href]").Each(func(_ int, s *goquery.Selection) {
			absolutize(s, "href", baseURL)
		})
		body.Find("[src]").Each(func(_ int, s *goquery.Selection) {
			absolutize(s, "src", baseURL)
		})
	}

	body.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if !matchesAny(trackerImages, s.AttrOr("src", "")) {
			return
		}
		if parent := s.Parent(); parent.Is("a") {
			parent.Remove()
			return
		}
		s.Remove()
	})

	body.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if matchesAny(sharingLinks, s.AttrOr("href", "")) {
			s.Remove()
		}
	})

	body.Find("[href], [src]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			if value, ok := s.Attr(attr); ok {
				refs[strings.TrimSpace(value)] = true
			}
		}
	})

	result, err := body.Html()
	if err != nil {
		return raw, refs
	}
	return strings.TrimSpace(result), refs
}

func absolutize(s *goquery.Selection, attr string, base *url.URL) {
	value, _ := s.Attr(attr)
	ref, err := url.Parse(strings.TrimSpace(value))
	if err != nil || ref.Scheme != "" {
		return
	}
	s.SetAttr(attr, base.ResolveReference(ref).String())
}

func paragraphs(text string) string {
	var out []string
	for _, block := range blankLines.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		out = append(out, "<p>"+html.EscapeString(block)+"</p>")
	}
	return strings.Join(out, "\n")
}
