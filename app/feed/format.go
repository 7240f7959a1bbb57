package feed

import (
	"fmt"
	"mime"
	"strings"

	"github.com/lysyi3m/rss-skim/app/xmltree"
)

type Format struct {
	Name        string
	ContentType string
	FeedPath    []string
	EntriesKey  string
}

var (
	FormatRSS = Format{
		Name:        "rss",
		ContentType: "application/rss+xml",
		FeedPath:    []string{"rss", "channel"},
		EntriesKey:  "item",
	}
	FormatAtom = Format{
		Name:        "atom",
		ContentType: "application/atom+xml",
		FeedPath:    []string{"atom:feed"},
		EntriesKey:  "atom:entry",
	}

	// Formats is consulted in order when sniffing the root element.
	Formats = []Format{FormatRSS, FormatAtom}
)

var xmlContentTypes = map[string]bool{
	"application/atom+xml": true,
	"application/rss+xml":  true,
	"application/xml":      true,
	"text/xml":             true,
	"text/html":            true,
}

type UnrecognizedFormatError struct {
	ContentType string
	Root        []string
}

func (e *UnrecognizedFormatError) Error() string {
	if len(e.Root) == 0 {
		return fmt.Sprintf("unrecognized feed format for content type %q", e.ContentType)
	}
	return fmt.Sprintf("unrecognized feed format for content type %q with root %q", e.ContentType, strings.Join(e.Root, ","))
}

// Resolved splits a parsed document into the feed element and its entries.
type Resolved struct {
	Format     Format
	Feed       xmltree.Node
	Entries    []xmltree.Node
	Namespaces *xmltree.NamespaceTable
}

func (r Resolved) IsEmpty() bool {
	return r.Feed.IsEmpty() && len(r.Entries) == 0
}

// MediaType strips parameters from a Content-Type header value.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// AcceptsContentType reports whether a response with this Content-Type is
// worth parsing as an XML feed. A missing content type is accepted.
func AcceptsContentType(contentType string) error {
	mediaType := MediaType(contentType)
	if mediaType == "" || xmlContentTypes[mediaType] {
		return nil
	}
	return &UnrecognizedFormatError{ContentType: contentType}
}

func Resolve(doc xmltree.Document, contentType string) (Resolved, error) {
	if err := AcceptsContentType(contentType); err != nil {
		return Resolved{}, err
	}

	if doc.Root.IsEmpty() {
		return Resolved{Namespaces: doc.Namespaces}, nil
	}

	mediaType := MediaType(contentType)
	for _, format := range Formats {
		if format.ContentType != mediaType {
			continue
		}
		if feedNode, ok := doc.Root.Path(format.FeedPath...); ok && feedNode.Kind() == xmltree.KindMap {
			return split(format, feedNode, doc.Namespaces), nil
		}
	}

	for _, format := range Formats {
		if _, ok := doc.Root.Get(format.FeedPath[0]); !ok {
			continue
		}
		if feedNode, ok := doc.Root.Path(format.FeedPath...); ok && feedNode.Kind() == xmltree.KindMap {
			return split(format, feedNode, doc.Namespaces), nil
		}
	}

	return Resolved{}, &UnrecognizedFormatError{ContentType: contentType, Root: doc.Root.Keys()}
}

func split(format Format, feedNode xmltree.Node, namespaces *xmltree.NamespaceTable) Resolved {
	resolved := Resolved{
		Format:     format,
		Feed:       feedNode.Without(format.EntriesKey),
		Namespaces: namespaces,
	}
	if entries, ok := feedNode.Get(format.EntriesKey); ok {
		resolved.Entries = entries.Items()
	}
	return resolved
}
