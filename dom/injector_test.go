package dom

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/formvox/schema"
)

func countAffordances(p *Page) int {
	n := 0
	for _, b := range queryAll(p, "button") {
		if hasAttr(b, affordanceAttr) {
			n++
		}
	}
	return n
}

func TestInjectButtonsIsIdempotent(t *testing.T) {
	p := mustParse(t, `
		<form id="signup">
			<input type="text" name="first">
			<input type="text" name="last">
		</form>`)
	inj := NewInjector(NewDetector(0), nil)

	forms := inj.InjectButtons(p)
	if len(forms) != 1 {
		t.Fatalf("expected 1 form, got %d", len(forms))
	}
	if got := countAffordances(p); got != 1 {
		t.Fatalf("expected 1 affordance, got %d", got)
	}

	// A rescan over the same document must not stack a second button.
	inj.InjectButtons(p)
	if got := countAffordances(p); got != 1 {
		t.Fatalf("rescan duplicated the affordance, got %d", got)
	}
}

func TestInjectButtonsSynthesizesFormlessHost(t *testing.T) {
	p := mustParse(t, `
		<div>
			<input type="text" name="email">
			<input type="text" name="zip">
		</div>`)
	inj := NewInjector(NewDetector(0), nil)
	forms := inj.InjectButtons(p)
	if len(forms) != 1 || forms[0].ID != schema.FormlessContainerID {
		t.Fatalf("expected the formless schema, got %+v", forms)
	}
	host := Resolve(p.Doc(), "#"+FormlessHostID)
	if host == nil {
		t.Fatalf("formless host not synthesized")
	}
	if countAffordances(p) != 1 {
		t.Fatalf("affordance missing from formless host")
	}
	// The host is reused on rescan, not re-created.
	inj.InjectButtons(p)
	hosts := 0
	for _, d := range queryAll(p, "div") {
		if attr(d, "id") == FormlessHostID {
			hosts++
		}
	}
	if hosts != 1 {
		t.Fatalf("expected 1 host, got %d", hosts)
	}
}

func TestActivateHidesButtonAndRestoresOnFailure(t *testing.T) {
	p := mustParse(t, `
		<form id="signup">
			<input type="text" name="first">
			<input type="text" name="last">
		</form>`)
	fail := errors.New("backend down")
	var calls int
	inj := NewInjector(NewDetector(0), func(form schema.FormSchema, pageURL string) error {
		calls++
		if calls == 1 {
			return fail
		}
		return nil
	})
	inj.InjectButtons(p)
	button := queryAll(p, "button")[0]

	if err := inj.Activate(p, "signup"); !errors.Is(err, fail) {
		t.Fatalf("expected activation failure, got %v", err)
	}
	if hasAttr(button, "hidden") {
		t.Fatalf("failed activation must restore the affordance")
	}

	if err := inj.Activate(p, "signup"); err != nil {
		t.Fatalf("second activation: %v", err)
	}
	if !hasAttr(button, "hidden") {
		t.Fatalf("successful activation must hide the affordance")
	}
}

func TestActivateUnknownForm(t *testing.T) {
	p := mustParse(t, `<form id="a"><input name="x"><input name="y"></form>`)
	inj := NewInjector(NewDetector(0), nil)
	inj.InjectButtons(p)
	if err := inj.Activate(p, "nope"); err == nil {
		t.Fatalf("expected error for unknown form id")
	}
}

func TestDebouncerCollapsesBursts(t *testing.T) {
	deb := NewDebouncer(20 * time.Millisecond)
	defer deb.Stop()
	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		deb.Trigger(func() { fired.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("burst fired %d times, want 1", got)
	}

	deb.Trigger(func() { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 2 {
		t.Fatalf("later trigger fired %d times total, want 2", got)
	}
}
