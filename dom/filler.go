package dom

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"pkt.systems/formvox/schema"
)

// DefaultHighlightDuration is how long the fill highlight stays before the
// cooperative revert.
const DefaultHighlightDuration = 1500 * time.Millisecond

// Filler writes extracted values back into a page using a previously detected
// schema. Elements are always re-resolved from the field selector; the schema
// never carries a live node across the serialization boundary.
type Filler struct {
	HighlightDuration time.Duration
}

// NewFiller constructs a filler with the default highlight duration.
func NewFiller() *Filler {
	return &Filler{HighlightDuration: DefaultHighlightDuration}
}

// Tokens that mean "checked" for radio/checkbox values.
var truthyTokens = map[string]bool{
	"yes":     true,
	"true":    true,
	"1":       true,
	"check":   true,
	"checked": true,
}

// FillFields writes each (name, value) pair into the page and returns how many
// fields were actually written. Unknown names and unresolvable selectors are
// skipped; the count is how the caller detects partial success.
func (f *Filler) FillFields(p *Page, values map[string]string, form schema.FormSchema) int {
	filled := 0
	for name, value := range values {
		field, ok := form.FieldByName(name)
		if !ok {
			continue
		}
		node := Resolve(p.Doc(), field.Selector)
		if node == nil {
			continue
		}
		if f.fillOne(p, node, field, value) {
			p.Highlight(node, f.highlightDuration())
			filled++
		}
	}
	return filled
}

func (f *Filler) highlightDuration() time.Duration {
	if f.HighlightDuration > 0 {
		return f.HighlightDuration
	}
	return DefaultHighlightDuration
}

func (f *Filler) fillOne(p *Page, node *html.Node, field schema.FieldSchema, value string) bool {
	switch field.Type {
	case schema.FieldTypeSelect:
		return fillSelect(p, node, field.Selector, value)
	case schema.FieldTypeRadio, schema.FieldTypeCheckbox:
		return fillCheckable(p, node, field.Selector, value)
	case schema.FieldTypeFile:
		// File inputs cannot be assigned a value.
		return false
	default:
		return fillTextLike(p, node, field.Selector, value)
	}
}

// fillTextLike sets the value wholesale (no per-character simulation) and
// records both notifications so host-page listeners and validators observe
// the write.
func fillTextLike(p *Page, node *html.Node, selector, value string) bool {
	if node.Data == "textarea" {
		setTextareaValue(node, value)
	} else {
		setAttr(node, "value", value)
	}
	p.RecordEvent(selector, EventInput)
	p.RecordEvent(selector, EventChange)
	return true
}

// fillSelect matches case-insensitively against option values first, then by
// substring against option text. First match wins; no match leaves the field
// unfilled.
func fillSelect(p *Page, node *html.Node, selector, value string) bool {
	want := strings.ToLower(strings.TrimSpace(value))
	var match *html.Node
	walkElements(node, func(opt *html.Node) bool {
		if !isElement(opt, "option") {
			return true
		}
		if strings.ToLower(optionValue(opt)) == want {
			match = opt
			return false
		}
		return true
	})
	if match == nil {
		walkElements(node, func(opt *html.Node) bool {
			if !isElement(opt, "option") {
				return true
			}
			if strings.Contains(strings.ToLower(textContent(opt)), want) {
				match = opt
				return false
			}
			return true
		})
	}
	if match == nil {
		return false
	}
	walkElements(node, func(opt *html.Node) bool {
		if isElement(opt, "option") && opt != match {
			removeAttr(opt, "selected")
		}
		return true
	})
	setAttr(match, "selected", "selected")
	p.RecordEvent(selector, EventChange)
	return true
}

// fillCheckable toggles checked state per the truthy-token test, and only
// touches the control when its current state differs, so no redundant events
// are emitted.
func fillCheckable(p *Page, node *html.Node, selector, value string) bool {
	want := truthyTokens[strings.ToLower(strings.TrimSpace(value))]
	current := hasAttr(node, "checked")
	if current == want {
		return true
	}
	if want {
		setAttr(node, "checked", "checked")
	} else {
		removeAttr(node, "checked")
	}
	p.RecordEvent(selector, EventChange)
	return true
}

func setTextareaValue(node *html.Node, value string) {
	for c := node.FirstChild; c != nil; {
		next := c.NextSibling
		node.RemoveChild(c)
		c = next
	}
	node.AppendChild(&html.Node{Type: html.TextNode, Data: value})
}
