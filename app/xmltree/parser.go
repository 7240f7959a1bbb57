package xmltree

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"
)

const DefaultChunkSize = 1024

const (
	enclosureTag = "enclosure"
	relAttr      = "rel"
	hrefAttr     = "href"
	xmlnsPrefix  = "xmlns"
)

// Tags whose markup is kept inline in the parent's text instead of
// becoming a child key.
var inlineHTMLTags = map[string]bool{
	"i":  true,
	"em": true,
}

// Document is the result of one parse.
type Document struct {
	Root       Node
	Namespaces *NamespaceTable
}

type Parser struct {
	ChunkSize int
}

func NewParser() *Parser {
	return &Parser{ChunkSize: DefaultChunkSize}
}

// Parse reads the whole stream and returns the generic tree of the
// document.
func Parse(r io.Reader) (Document, error) {
	return NewParser().Parse(r)
}

type frame struct {
	tag         string
	attrs       map[string]string
	fields      map[string]Node
	text        strings.Builder
	inline      strings.Builder
	sawChild    bool
	afterInline bool
}

func newFrame(tag string, attrs map[string]string) *frame {
	return &frame{tag: tag, attrs: attrs, fields: make(map[string]Node)}
}

func (p *Parser) Parse(r io.Reader) (Document, error) {
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	namespaces := NewNamespaceTable()
	stack := []*frame{newFrame("", nil)}

	pull := xpp.NewXMLPullParser(newChunkReader(r, chunkSize), true, charset.NewReaderLabel)

	for {
		event, err := pull.Next()
		if err != nil {
			return Document{}, &MalformedDocumentError{Err: err}
		}

		switch event {
		case xpp.StartTag:
			declareNamespaces(namespaces, pull.Attrs)
			tag := namespaces.Qualify(pull.Space, pull.Name)
			stack = append(stack, newFrame(tag, qualifyAttrs(namespaces, pull.Attrs)))

		case xpp.Text:
			top := stack[len(stack)-1]
			switch {
			case top.afterInline:
				top.inline.WriteString(pull.Text)
			case !top.sawChild:
				top.text.WriteString(pull.Text)
			}

		case xpp.EndTag:
			if len(stack) < 2 {
				return Document{}, &MalformedDocumentError{Err: fmt.Errorf("unexpected end element %q", pull.Name)}
			}
			child := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			closeElement(stack[len(stack)-1], child)

		case xpp.EndDocument:
			if len(stack) != 1 {
				return Document{}, &MalformedDocumentError{Err: fmt.Errorf("document ended with %d unclosed elements", len(stack)-1)}
			}
			return Document{
				Root:       Node{kind: KindMap, fields: stack[0].fields},
				Namespaces: namespaces,
			}, nil
		}
	}
}

func closeElement(parent, child *frame) {
	rel, hasRel := child.attrs[relAttr]

	if !hasRel && inlineHTMLTags[child.tag] {
		parent.inline.WriteString("<" + child.tag + ">" + child.text.String() + child.inline.String() + "</" + child.tag + ">")
		parent.sawChild = true
		parent.afterInline = true
		return
	}

	key := child.tag
	if hasRel {
		key = child.tag + "[" + rel + "]"
	}

	href, hasHref := child.attrs[hrefAttr]

	var value Node
	switch {
	case len(child.fields) > 0:
		value = Node{kind: KindMap, fields: child.fields}
	case hasHref:
		value = Scalar(href)
	case child.tag == enclosureTag:
		fields := make(map[string]Node, len(child.attrs))
		for name, v := range child.attrs {
			fields[name] = Scalar(v)
		}
		value = Node{kind: KindMap, fields: fields}
	default:
		value = Scalar(joinText(child.text.String(), child.inline.String()))
	}

	insert(parent, key, value)
	parent.sawChild = true
	parent.afterInline = false
}

func insert(parent *frame, key string, value Node) {
	existing, ok := parent.fields[key]
	if !ok {
		parent.fields[key] = value
		return
	}
	// Element values are never lists, so an existing list was promoted here.
	if existing.kind == KindList {
		existing.list = append(existing.list, value)
		parent.fields[key] = existing
		return
	}
	parent.fields[key] = Node{kind: KindList, list: []Node{existing, value}}
}

func joinText(text, inline string) string {
	text = strings.TrimSpace(text)
	inline = strings.TrimSpace(inline)
	switch {
	case inline == "":
		return text
	case text == "":
		return inline
	default:
		return text + " " + inline
	}
}

func declareNamespaces(namespaces *NamespaceTable, attrs []xml.Attr) {
	for _, attr := range attrs {
		switch {
		case attr.Name.Space == xmlnsPrefix:
			namespaces.Declare(attr.Value, attr.Name.Local)
		case attr.Name.Space == "" && attr.Name.Local == xmlnsPrefix:
			namespaces.Declare(attr.Value, "")
		}
	}
}

func qualifyAttrs(namespaces *NamespaceTable, attrs []xml.Attr) map[string]string {
	qualified := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		if attr.Name.Space == xmlnsPrefix || (attr.Name.Space == "" && attr.Name.Local == xmlnsPrefix) {
			continue
		}
		qualified[namespaces.Qualify(attr.Name.Space, attr.Name.Local)] = attr.Value
	}
	return qualified
}
