package dom

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"pkt.systems/formvox/schema"
)

func detectOne(t *testing.T, p *Page) schema.FormSchema {
	t.Helper()
	forms := NewDetector(0).ScanPage(p)
	if len(forms) != 1 {
		t.Fatalf("expected 1 form, got %d", len(forms))
	}
	return forms[0]
}

func TestFillFieldsWritesTextValue(t *testing.T) {
	p := mustParse(t, `
		<form>
			<input type="text" name="first">
			<input type="email" name="email">
		</form>`)
	form := detectOne(t, p)
	filler := NewFiller()

	n := filler.FillFields(p, map[string]string{"email": "sam@example.com"}, form)
	if n != 1 {
		t.Fatalf("filled = %d, want 1", n)
	}
	field, _ := form.FieldByName("email")
	node := Resolve(p.Doc(), field.Selector)
	if node == nil {
		t.Fatalf("field selector no longer resolves")
	}
	if got := attr(node, "value"); got != "sam@example.com" {
		t.Fatalf("value = %q", got)
	}
	events := p.Events()
	if len(events) != 2 {
		t.Fatalf("expected input+change events, got %d", len(events))
	}
	if events[0].Type != EventInput || events[1].Type != EventChange {
		t.Fatalf("event order = %v, %v", events[0].Type, events[1].Type)
	}
}

func TestFillFieldsTextareaReplacesContent(t *testing.T) {
	p := mustParse(t, `
		<form>
			<input type="text" name="pad">
			<textarea name="bio">old text</textarea>
		</form>`)
	form := detectOne(t, p)
	if n := NewFiller().FillFields(p, map[string]string{"bio": "new text"}, form); n != 1 {
		t.Fatalf("filled = %d, want 1", n)
	}
	field, _ := form.FieldByName("bio")
	node := Resolve(p.Doc(), field.Selector)
	if got := textContent(node); got != "new text" {
		t.Fatalf("textarea content = %q", got)
	}
}

func TestFillSelectMatchesValueThenText(t *testing.T) {
	p := mustParse(t, `
		<form>
			<input type="text" name="pad">
			<select name="state">
				<option value="ca">California</option>
				<option value="or">Oregon</option>
			</select>
		</form>`)
	form := detectOne(t, p)
	filler := NewFiller()

	// Case-insensitive value match.
	if n := filler.FillFields(p, map[string]string{"state": "CA"}, form); n != 1 {
		t.Fatalf("value match should fill, got %d", n)
	}
	field, _ := form.FieldByName("state")
	sel := Resolve(p.Doc(), field.Selector)
	if !hasAttr(firstOptionWithValue(sel, "ca"), "selected") {
		t.Fatalf("california option not selected")
	}

	// Substring match against option text.
	if n := filler.FillFields(p, map[string]string{"state": "oreg"}, form); n != 1 {
		t.Fatalf("text substring should fill, got %d", n)
	}
	if !hasAttr(firstOptionWithValue(sel, "or"), "selected") {
		t.Fatalf("oregon option not selected")
	}
	if hasAttr(firstOptionWithValue(sel, "ca"), "selected") {
		t.Fatalf("previous selection not cleared")
	}

	// No match leaves the field unfilled.
	if n := filler.FillFields(p, map[string]string{"state": "atlantis"}, form); n != 0 {
		t.Fatalf("no option matches, filled = %d", n)
	}
}

func firstOptionWithValue(sel *html.Node, value string) *html.Node {
	var found *html.Node
	walkElements(sel, func(n *html.Node) bool {
		if isElement(n, "option") && attr(n, "value") == value {
			found = n
			return false
		}
		return true
	})
	return found
}

func TestFillCheckableTogglesOnlyOnDifference(t *testing.T) {
	p := mustParse(t, `
		<form>
			<input type="text" name="pad">
			<input type="checkbox" name="subscribe" value="y" checked>
		</form>`)
	form := detectOne(t, p)
	filler := NewFiller()

	// Already checked, truthy value: counts as filled, no event.
	if n := filler.FillFields(p, map[string]string{"subscribe": "yes"}, form); n != 1 {
		t.Fatalf("filled = %d, want 1", n)
	}
	if got := len(p.Events()); got != 0 {
		t.Fatalf("already-correct state must not emit events, got %d", got)
	}

	// Unchecking emits exactly one change event.
	if n := filler.FillFields(p, map[string]string{"subscribe": "no"}, form); n != 1 {
		t.Fatalf("filled = %d, want 1", n)
	}
	events := p.Events()
	if len(events) != 1 || events[0].Type != EventChange {
		t.Fatalf("expected one change event, got %v", events)
	}
	field, _ := form.FieldByName("subscribe")
	if hasAttr(Resolve(p.Doc(), field.Selector), "checked") {
		t.Fatalf("checkbox still checked")
	}
}

func TestFillFieldsSkipsUnknownAndUnresolvable(t *testing.T) {
	p := mustParse(t, `
		<form>
			<input type="text" name="a">
			<input type="text" name="b">
		</form>`)
	form := detectOne(t, p)
	// Break one selector so it no longer resolves.
	for i := range form.Fields {
		if form.Fields[i].Name == "b" {
			form.Fields[i].Selector = "#gone"
		}
	}
	n := NewFiller().FillFields(p, map[string]string{
		"a":       "kept",
		"b":       "dropped",
		"unknown": "dropped",
	}, form)
	if n != 1 {
		t.Fatalf("filled = %d, want 1", n)
	}
}

func TestHighlightRevertsAfterDeadline(t *testing.T) {
	p := mustParse(t, `
		<form>
			<input type="text" name="a" style="color:red">
			<input type="text" name="b">
		</form>`)
	form := detectOne(t, p)
	filler := &Filler{HighlightDuration: 10 * time.Millisecond}
	if n := filler.FillFields(p, map[string]string{"a": "x", "b": "y"}, form); n != 2 {
		t.Fatalf("filled = %d, want 2", n)
	}
	fieldA, _ := form.FieldByName("a")
	nodeA := Resolve(p.Doc(), fieldA.Selector)
	if !strings.Contains(attr(nodeA, "style"), "4a90d9") {
		t.Fatalf("highlight style not applied: %q", attr(nodeA, "style"))
	}

	if got := p.FlushHighlights(time.Now()); got != 0 {
		t.Fatalf("flush before deadline reverted %d", got)
	}
	if got := p.FlushHighlights(time.Now().Add(time.Second)); got != 2 {
		t.Fatalf("flush after deadline reverted %d, want 2", got)
	}
	if got := attr(nodeA, "style"); got != "color:red" {
		t.Fatalf("original style not restored, got %q", got)
	}
	fieldB, _ := form.FieldByName("b")
	if hasAttr(Resolve(p.Doc(), fieldB.Selector), "style") {
		t.Fatalf("style attribute should be removed when there was none before")
	}
}
