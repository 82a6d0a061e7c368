// Package dom implements the per-tab page engine: form detection over a
// parsed document, stable selector generation, value writing, and affordance
// injection. All access to one page is confined to the owning tab's request
// flow; the package itself does no locking.
package dom

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// EventType names a synthetic DOM notification recorded on a write.
type EventType string

const (
	// EventInput mirrors an input event so host-page listeners observe the write.
	EventInput EventType = "input"
	// EventChange mirrors a change event committing the value.
	EventChange EventType = "change"
)

// Event is one recorded synthetic notification.
type Event struct {
	Selector string
	Type     EventType
}

type highlight struct {
	node     *html.Node
	prev     string
	hadStyle bool
	deadline time.Time
}

// Page wraps one tab's parsed document. Writes go through the page so that
// synthetic events and transient highlights stay observable.
type Page struct {
	doc        *html.Node
	url        *url.URL
	rawURL     string
	events     []Event
	highlights []highlight
}

// ParsePage parses raw HTML into a page. The URL may be empty; it is kept for
// schema action resolution and navigation checks.
func ParsePage(rawHTML, pageURL string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	p := &Page{doc: doc, rawURL: pageURL}
	if parsed, err := url.Parse(pageURL); err == nil {
		p.url = parsed
	}
	return p, nil
}

// Doc returns the document root.
func (p *Page) Doc() *html.Node {
	return p.doc
}

// URL returns the page URL as given at parse time.
func (p *Page) URL() string {
	return p.rawURL
}

// RecordEvent appends a synthetic event to the page's log.
func (p *Page) RecordEvent(selector string, typ EventType) {
	p.events = append(p.events, Event{Selector: selector, Type: typ})
}

// Events returns the synthetic events recorded so far.
func (p *Page) Events() []Event {
	return append([]Event(nil), p.events...)
}

const highlightStyle = "border:2px solid #4a90d9;box-shadow:0 0 4px #4a90d9"

// Highlight perturbs the node's style and schedules a cooperative revert. The
// revert happens when FlushHighlights is next called after the deadline, which
// keeps all document mutation on the tab's own flow.
func (p *Page) Highlight(n *html.Node, d time.Duration) {
	prev, had := lookupAttr(n, "style")
	style := highlightStyle
	if had && prev != "" {
		style = prev + ";" + highlightStyle
	}
	setAttr(n, "style", style)
	p.highlights = append(p.highlights, highlight{
		node:     n,
		prev:     prev,
		hadStyle: had,
		deadline: time.Now().Add(d),
	})
}

// FlushHighlights reverts every highlight whose deadline has passed and
// reports how many were reverted.
func (p *Page) FlushHighlights(now time.Time) int {
	kept := p.highlights[:0]
	reverted := 0
	for _, h := range p.highlights {
		if now.Before(h.deadline) {
			kept = append(kept, h)
			continue
		}
		if h.hadStyle {
			setAttr(h.node, "style", h.prev)
		} else {
			removeAttr(h.node, "style")
		}
		reverted++
	}
	p.highlights = kept
	return reverted
}

// Node attribute helpers shared across the package.

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := lookupAttr(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func isElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag
}

// textContent collects the node's text the way the DOM textContent property
// does, with whitespace collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// walkElements visits every element under root in document order. The visitor
// returns false to stop the walk.
func walkElements(root *html.Node, visit func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if !visit(n) {
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
	walk(root)
}
