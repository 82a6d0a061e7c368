package dom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"pkt.systems/formvox/schema"
)

// DefaultQuietPeriod is the debounce window for mutation-triggered rescans.
// Bursty single-page-app re-renders collapse into one pass.
const DefaultQuietPeriod = 500 * time.Millisecond

// FormlessHostID is the id of the synthesized container for the formless
// cluster's affordance.
const FormlessHostID = "formvox-formless-host"

const affordanceAttr = "data-formvox-form"

// ActivateFunc requests a session start for the schema detected on the page.
type ActivateFunc func(form schema.FormSchema, pageURL string) error

// Injector re-runs detection and surfaces one affordance per qualifying
// schema. Injection is idempotent per page: containers that already carry an
// affordance are skipped via an identity set scoped to the page.
type Injector struct {
	detector   *Detector
	onActivate ActivateFunc
	marked     map[*html.Node]struct{}
	forms      map[string]schema.FormSchema
	buttons    map[string]*html.Node

	// QuietPeriod overrides the Watch debounce window when positive.
	QuietPeriod time.Duration
}

// NewInjector constructs an injector. onActivate may be nil when the caller
// drives activation itself.
func NewInjector(detector *Detector, onActivate ActivateFunc) *Injector {
	return &Injector{
		detector:   detector,
		onActivate: onActivate,
		marked:     make(map[*html.Node]struct{}),
		forms:      make(map[string]schema.FormSchema),
		buttons:    make(map[string]*html.Node),
	}
}

// Reset clears per-page state. Call it when the tab loads a new document.
func (i *Injector) Reset() {
	i.marked = make(map[*html.Node]struct{})
	i.forms = make(map[string]schema.FormSchema)
	i.buttons = make(map[string]*html.Node)
}

// InjectButtons re-runs detection and attaches an affordance to every
// qualifying schema's container. It returns the current detection result.
func (i *Injector) InjectButtons(p *Page) []schema.FormSchema {
	forms := i.detector.ScanPage(p)
	for _, form := range forms {
		i.forms[form.ID] = form
		container := i.containerFor(p, form)
		if container == nil {
			continue
		}
		if _, ok := i.marked[container]; ok {
			continue
		}
		i.marked[container] = struct{}{}
		i.buttons[form.ID] = appendAffordance(container, form.ID)
	}
	return forms
}

// Forms returns the schemas from the last injection pass.
func (i *Injector) Forms() []schema.FormSchema {
	out := make([]schema.FormSchema, 0, len(i.forms))
	for _, f := range i.forms {
		out = append(out, f)
	}
	return out
}

// Activate fires the affordance for the given schema. On success the
// affordance hides itself and hands over to the session flow; on failure it
// restores itself and the error is surfaced.
func (i *Injector) Activate(p *Page, formID string) error {
	form, ok := i.forms[formID]
	if !ok {
		return fmt.Errorf("no detected form %q", formID)
	}
	button := i.buttons[formID]
	if button != nil {
		setAttr(button, "hidden", "hidden")
	}
	if i.onActivate == nil {
		return nil
	}
	if err := i.onActivate(form, p.URL()); err != nil {
		if button != nil {
			removeAttr(button, "hidden")
		}
		return err
	}
	return nil
}

// Watch debounces mutation signals into rescan calls until the context ends.
// The rescan callback runs on the debounce timer goroutine; callers serialize
// document access themselves.
func (i *Injector) Watch(ctx context.Context, signals <-chan struct{}, rescan func()) {
	deb := NewDebouncer(i.QuietPeriod)
	defer deb.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			deb.Trigger(rescan)
		}
	}
}

// containerFor resolves the concrete container element for a schema: the form
// node itself, or a synthesized host appended to body for the formless
// cluster.
func (i *Injector) containerFor(p *Page, form schema.FormSchema) *html.Node {
	if form.ID == schema.FormlessContainerID {
		return i.formlessHost(p)
	}
	if node := Resolve(p.Doc(), idSelector(form.ID)); node != nil && node.Data == "form" {
		return node
	}
	// Synthetic form_<n> ids fall back to positional lookup.
	if idx, ok := syntheticFormIndex(form.ID); ok {
		n := 0
		var found *html.Node
		walkElements(p.Doc(), func(node *html.Node) bool {
			if !isElement(node, "form") {
				return true
			}
			if n == idx {
				found = node
				return false
			}
			n++
			return true
		})
		return found
	}
	return nil
}

func (i *Injector) formlessHost(p *Page) *html.Node {
	if host := Resolve(p.Doc(), "#"+FormlessHostID); host != nil {
		return host
	}
	body := Resolve(p.Doc(), "body")
	if body == nil {
		return nil
	}
	host := &html.Node{
		Type: html.ElementNode,
		Data: "div",
		Attr: []html.Attribute{{Key: "id", Val: FormlessHostID}},
	}
	body.AppendChild(host)
	return host
}

func appendAffordance(container *html.Node, formID string) *html.Node {
	button := &html.Node{
		Type: html.ElementNode,
		Data: "button",
		Attr: []html.Attribute{
			{Key: "type", Val: "button"},
			{Key: "class", Val: "formvox-fill-trigger"},
			{Key: affordanceAttr, Val: formID},
		},
	}
	button.AppendChild(&html.Node{Type: html.TextNode, Data: "Fill with assistant"})
	container.AppendChild(button)
	return button
}

func syntheticFormIndex(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "form_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Debouncer coalesces bursts of signals into one callback after a quiet
// period. It is a plain timer pattern, not a concurrency primitive: each new
// trigger reschedules the pending timer.
type Debouncer struct {
	quiet time.Duration
	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer constructs a debouncer with the given quiet period.
func NewDebouncer(quiet time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{quiet: quiet}
}

// Trigger schedules fn after the quiet period, replacing any pending call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, fn)
}

// Stop cancels any pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
