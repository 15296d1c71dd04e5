// Package document parses response bodies into HTML document trees.
package document

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parser parses a response body.
type Parser interface {
	Parse(body []byte) (*Document, error)
}

// HTMLParser parses bodies as HTML5.
type HTMLParser struct{}

// NewHTMLParser creates an HTML parser.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// Parse implements Parser.
func (HTMLParser) Parse(body []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{Root: root}, nil
}

// Document is a parsed HTML tree.
type Document struct {
	Root *html.Node
}

// Title returns the text of the first <title> element.
func (d *Document) Title() string {
	if n := d.Find("title"); n != nil {
		return strings.TrimSpace(nodeText(n))
	}
	return ""
}

// Find returns the first element with the given tag name, or nil.
func (d *Document) Find(tag string) *html.Node {
	all := d.findAll(tag, 1)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// FindAll returns every element with the given tag name in document order.
func (d *Document) FindAll(tag string) []*html.Node {
	return d.findAll(tag, -1)
}

func (d *Document) findAll(tag string, limit int) []*html.Node {
	if d == nil || d.Root == nil {
		return nil
	}
	a := atom.Lookup([]byte(strings.ToLower(tag)))

	var out []*html.Node
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && matches(n, a, tag) {
			out = append(out, n)
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(d.Root)
	return out
}

func matches(n *html.Node, a atom.Atom, tag string) bool {
	if a != 0 {
		return n.DataAtom == a
	}
	return strings.EqualFold(n.Data, tag)
}

// Links returns the href of every <a> element that has one.
func (d *Document) Links() []string {
	var links []string
	for _, n := range d.FindAll("a") {
		if href, ok := Attr(n, "href"); ok && href != "" {
			links = append(links, href)
		}
	}
	return links
}

// Text returns the visible text of the document with whitespace collapsed.
func (d *Document) Text() string {
	if d == nil || d.Root == nil {
		return ""
	}
	return strings.Join(strings.Fields(nodeText(d.Root)), " ")
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
