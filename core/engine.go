package core

import (
	"context"
	"time"

	"pkt.systems/formvox/dom"
	"pkt.systems/formvox/schema"
)

// engine is one tab's page state: the parsed document, its injector, and the
// latest detection result. Access is serialized by the service mutex so the
// document is only ever touched by one request at a time. Mutation signals
// land on the signals channel and are debounced by the injector's watch
// goroutine, which lives until stop is called.
type engine struct {
	page     *dom.Page
	injector *dom.Injector
	forms    []schema.FormSchema
	signals  chan struct{}
	stop     context.CancelFunc
}

func newEngine(detector *dom.Detector, quiet time.Duration) *engine {
	inj := dom.NewInjector(detector, nil)
	inj.QuietPeriod = quiet
	return &engine{
		injector: inj,
		signals:  make(chan struct{}, 1),
	}
}

// setPage swaps in a freshly parsed document and re-runs detection and
// affordance injection.
func (e *engine) setPage(p *dom.Page) []schema.FormSchema {
	e.page = p
	e.injector.Reset()
	e.forms = e.injector.InjectButtons(p)
	return e.forms
}

// rescan re-runs injection over the current document.
func (e *engine) rescan() []schema.FormSchema {
	if e.page == nil {
		return nil
	}
	e.forms = e.injector.InjectButtons(e.page)
	return e.forms
}

// formByID finds a schema from the last detection pass.
func (e *engine) formByID(id string) (schema.FormSchema, bool) {
	for _, f := range e.forms {
		if f.ID == id {
			return f, true
		}
	}
	return schema.FormSchema{}, false
}

// fill writes values into the page using the best matching schema: the one
// whose fields cover the most keys in the payload.
func (e *engine) fill(filler *dom.Filler, values map[string]string) int {
	if e.page == nil || len(e.forms) == 0 {
		return 0
	}
	best := -1
	covered := -1
	for i, form := range e.forms {
		n := 0
		for name := range values {
			if _, ok := form.FieldByName(name); ok {
				n++
			}
		}
		if n > covered {
			covered = n
			best = i
		}
	}
	if best < 0 || covered == 0 {
		return 0
	}
	return filler.FillFields(e.page, values, e.forms[best])
}
