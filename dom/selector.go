package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// GenerateSelector returns a locator for the element that can be re-evaluated
// against the document later. Schemas cross a serialization boundary, so a
// live node reference cannot travel with them; the selector is the weak
// reference that stands in for it. Fallback chain, most stable first: the
// element's own id, its tag qualified by name, then a synthesized ancestor
// path that stops early at the first ancestor carrying an id.
func GenerateSelector(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if id := attr(n, "id"); id != "" {
		return idSelector(id)
	}
	if name := attr(n, "name"); name != "" {
		return fmt.Sprintf("%s[name=%q]", n.Data, name)
	}
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if cur != n {
			if id := attr(cur, "id"); id != "" {
				parts = append([]string{idSelector(id)}, parts...)
				return strings.Join(parts, " > ")
			}
		}
		seg := cur.Data
		if idx, shared := typePosition(cur); shared {
			seg = fmt.Sprintf("%s:nth-of-type(%d)", seg, idx)
		}
		parts = append([]string{seg}, parts...)
	}
	return strings.Join(parts, " > ")
}

// Resolve re-evaluates a selector against the document and returns the first
// match, or nil. Resolution is best effort: an unparsable selector behaves
// like a miss.
func Resolve(doc *html.Node, selector string) *html.Node {
	if selector == "" || doc == nil {
		return nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	return sel.MatchFirst(doc)
}

// typePosition returns the element's 1-based position among same-tag siblings
// and whether any sibling shares its tag.
func typePosition(n *html.Node) (int, bool) {
	if n.Parent == nil {
		return 1, false
	}
	idx := 1
	shared := false
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib.Type != html.ElementNode || sib.Data != n.Data {
			continue
		}
		if sib == n {
			break
		}
		idx++
	}
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib != n && sib.Type == html.ElementNode && sib.Data == n.Data {
			shared = true
			break
		}
	}
	return idx, shared
}

// idSelector prefers the #id shorthand but falls back to an attribute match
// when the id is not a plain CSS identifier.
func idSelector(id string) string {
	if isCSSIdentifier(id) {
		return "#" + id
	}
	return fmt.Sprintf("[id=%q]", id)
}

func isCSSIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
