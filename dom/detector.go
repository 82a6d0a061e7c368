package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"pkt.systems/formvox/schema"
)

// Detector scans a page for fillable forms and the synthetic formless cluster.
type Detector struct {
	// MinFields is the retention threshold for a candidate schema. Candidates
	// below it (a lone search box, a single newsletter input) are not forms.
	MinFields int
}

// NewDetector constructs a detector with the given threshold; zero or
// negative means the default.
func NewDetector(minFields int) *Detector {
	if minFields <= 0 {
		minFields = schema.DefaultMinFormFields
	}
	return &Detector{MinFields: minFields}
}

// Raw control types that are never fillable fields.
var skippedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
}

func isControl(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "input", "select", "textarea":
		return true
	}
	return false
}

// ScanPage extracts one schema per form element plus one synthetic schema for
// controls not nested in any form, dropping candidates below the threshold.
func (d *Detector) ScanPage(p *Page) []schema.FormSchema {
	var out []schema.FormSchema
	formIndex := 0
	walkElements(p.Doc(), func(n *html.Node) bool {
		if !isElement(n, "form") {
			return true
		}
		form := d.extractForm(p, n, formIndex)
		formIndex++
		if len(form.Fields) >= d.MinFields {
			out = append(out, form)
		}
		return true
	})
	if formless := d.extractFormless(p); len(formless.Fields) >= d.MinFields {
		out = append(out, formless)
	}
	return out
}

func (d *Detector) extractForm(p *Page, formNode *html.Node, index int) schema.FormSchema {
	id := attr(formNode, "id")
	if id == "" {
		id = fmt.Sprintf("form_%d", index)
	}
	method := strings.ToLower(attr(formNode, "method"))
	if method == "" {
		method = "get"
	}
	form := schema.FormSchema{
		ID:     id,
		Action: attr(formNode, "action"),
		Method: method,
	}
	form.Fields = d.extractFields(p, formNode)
	return form
}

func (d *Detector) extractFormless(p *Page) schema.FormSchema {
	form := schema.FormSchema{ID: schema.FormlessContainerID}
	var orphans []*html.Node
	walkElements(p.Doc(), func(n *html.Node) bool {
		if isControl(n) && enclosingForm(n) == nil {
			orphans = append(orphans, n)
		}
		return true
	})
	form.Fields = d.fieldsFromControls(p, orphans)
	return form
}

func (d *Detector) extractFields(p *Page, container *html.Node) []schema.FieldSchema {
	var controls []*html.Node
	walkElements(container, func(n *html.Node) bool {
		if n != container && isControl(n) {
			controls = append(controls, n)
		}
		return true
	})
	return d.fieldsFromControls(p, controls)
}

// fieldsFromControls converts controls to field schemas. Radio and checkbox
// controls sharing a group name collapse into a single field whose options
// cover the group members.
func (d *Detector) fieldsFromControls(p *Page, controls []*html.Node) []schema.FieldSchema {
	var fields []schema.FieldSchema
	seenGroups := map[string]bool{}
	for _, control := range controls {
		rawType := controlRawType(control)
		if control.Data == "input" && skippedInputTypes[rawType] {
			continue
		}
		name := attr(control, "name")
		if name == "" && attr(control, "id") == "" && attr(control, "placeholder") == "" {
			// No identifying signal at all; nothing to key a value on.
			continue
		}
		typ := schema.NormalizeFieldType(rawType)
		if (typ == schema.FieldTypeRadio || typ == schema.FieldTypeCheckbox) && name != "" {
			if seenGroups[name] {
				continue
			}
			seenGroups[name] = true
			fields = append(fields, d.groupField(p, control, controls, name, typ))
			continue
		}
		fields = append(fields, d.singleField(p, control, name, typ))
	}
	return fields
}

func controlRawType(n *html.Node) string {
	switch n.Data {
	case "select":
		return "select"
	case "textarea":
		return "textarea"
	default:
		t := strings.ToLower(attr(n, "type"))
		if t == "" {
			t = "text"
		}
		return t
	}
}

func (d *Detector) singleField(p *Page, control *html.Node, name string, typ schema.FieldType) schema.FieldSchema {
	field := schema.FieldSchema{
		Name:        fieldName(control, name),
		Type:        typ,
		Label:       resolveLabel(p.Doc(), control),
		Required:    hasAttr(control, "required"),
		Placeholder: attr(control, "placeholder"),
		Value:       controlValue(control),
		Selector:    GenerateSelector(control),
	}
	if typ == schema.FieldTypeSelect {
		field.Options = selectOptions(control)
	}
	return field
}

// groupField builds one field for a whole radio/checkbox group, with one
// option per member resolved through the same label chain.
func (d *Detector) groupField(p *Page, first *html.Node, controls []*html.Node, name string, typ schema.FieldType) schema.FieldSchema {
	field := schema.FieldSchema{
		Name:     name,
		Type:     typ,
		Label:    resolveLabel(p.Doc(), first),
		Required: hasAttr(first, "required"),
		Selector: GenerateSelector(first),
	}
	for _, member := range controls {
		if attr(member, "name") != name {
			continue
		}
		memberType := schema.NormalizeFieldType(controlRawType(member))
		if memberType != typ {
			continue
		}
		label := resolveLabel(p.Doc(), member)
		if label == "" {
			label = attr(member, "value")
		}
		field.Options = append(field.Options, schema.FieldOption{
			Value: attr(member, "value"),
			Label: label,
		})
	}
	return field
}

func fieldName(control *html.Node, name string) string {
	if name != "" {
		return name
	}
	if id := attr(control, "id"); id != "" {
		return id
	}
	return attr(control, "placeholder")
}

func controlValue(n *html.Node) string {
	if n.Data == "textarea" {
		return textContent(n)
	}
	if n.Data == "select" {
		var selected string
		walkElements(n, func(opt *html.Node) bool {
			if isElement(opt, "option") && hasAttr(opt, "selected") {
				selected = optionValue(opt)
				return false
			}
			return true
		})
		return selected
	}
	return attr(n, "value")
}

func selectOptions(sel *html.Node) []schema.FieldOption {
	var opts []schema.FieldOption
	walkElements(sel, func(n *html.Node) bool {
		if isElement(n, "option") {
			opts = append(opts, schema.FieldOption{
				Value: optionValue(n),
				Label: textContent(n),
			})
		}
		return true
	})
	return opts
}

func optionValue(opt *html.Node) string {
	if v, ok := lookupAttr(opt, "value"); ok {
		return v
	}
	return textContent(opt)
}

func enclosingForm(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if isElement(cur, "form") {
			return cur
		}
	}
	return nil
}

// resolveLabel walks the label resolution chain: explicit for-id association,
// enclosing label text with the control's own value stripped, aria-label,
// an immediately preceding label-like sibling, then a label-like descendant of
// the nearest ancestor container.
func resolveLabel(doc *html.Node, control *html.Node) string {
	if id := attr(control, "id"); id != "" {
		if label := labelFor(doc, id); label != "" {
			return label
		}
	}
	if label := enclosingLabelText(control); label != "" {
		return label
	}
	if aria := attr(control, "aria-label"); aria != "" {
		return strings.TrimSpace(aria)
	}
	if label := precedingLabelText(control); label != "" {
		return label
	}
	return ancestorLabelText(control)
}

func labelFor(doc *html.Node, id string) string {
	var text string
	walkElements(doc, func(n *html.Node) bool {
		if isElement(n, "label") && attr(n, "for") == id {
			text = textContent(n)
			return false
		}
		return true
	})
	return text
}

func enclosingLabelText(control *html.Node) string {
	for cur := control.Parent; cur != nil; cur = cur.Parent {
		if !isElement(cur, "label") {
			continue
		}
		text := textContent(cur)
		if own := textContent(control); own != "" {
			text = strings.TrimSpace(strings.ReplaceAll(text, own, ""))
		}
		return strings.TrimSpace(text)
	}
	return ""
}

var labelLikeTags = map[string]bool{
	"label":  true,
	"span":   true,
	"strong": true,
	"b":      true,
	"p":      true,
}

func precedingLabelText(control *html.Node) string {
	for sib := control.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.TextNode {
			if strings.TrimSpace(sib.Data) == "" {
				continue
			}
			return strings.TrimSpace(sib.Data)
		}
		if sib.Type != html.ElementNode {
			continue
		}
		if labelLikeTags[sib.Data] {
			return textContent(sib)
		}
		return ""
	}
	return ""
}

// ancestorLabelText climbs a few container levels looking for a label-like
// descendant. The climb stops at the form (or body) so a far-away heading
// never gets claimed as a field label.
func ancestorLabelText(control *html.Node) string {
	cur := control.Parent
	for depth := 0; depth < 3 && cur != nil && cur.Type == html.ElementNode; depth++ {
		if cur.Data == "form" || cur.Data == "body" {
			return ""
		}
		var text string
		walkElements(cur, func(n *html.Node) bool {
			if n == cur || n == control {
				return true
			}
			if labelLikeTags[n.Data] {
				text = textContent(n)
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
		cur = cur.Parent
	}
	return ""
}
