package dom

import (
	"golang.org/x/net/html"
)

func queryAll(p *Page, tag string) []*html.Node {
	var out []*html.Node
	walkElements(p.Doc(), func(n *html.Node) bool {
		if n.Data == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}
