package htmldoc

import (
	"strings"
	"testing"

	"github.com/hazyhaar/pagesync/dom"
)

const formPage = `<!DOCTYPE html><html><head><title>t</title></head><body>
<form id="f">
  <input id="name" value="alice">
  <input id="agree" type="checkbox" checked>
  <textarea id="bio">hello</textarea>
  <select id="one"><option value="a">A</option><option value="b" selected>B</option></select>
  <select id="many" multiple><option>x</option><option selected>y</option><option selected>z</option></select>
</form>
</body></html>`

func TestNodeNames(t *testing.T) {
	d := MustParse(formPage)
	if got := d.NodeName(); got != "#document" {
		t.Errorf("document name: got %q", got)
	}
	if got := d.DocumentElement().NodeName(); got != "HTML" {
		t.Errorf("documentElement: got %q, want HTML", got)
	}
	if got := d.Body().NodeName(); got != "BODY" {
		t.Errorf("body: got %q, want BODY", got)
	}
	kids := d.Body().ChildNodes()
	if len(kids) == 0 || kids[0].NodeName() != "#text" {
		t.Fatalf("first body child: got %v", kids)
	}
	if dom.DocumentOf(kids[0]) != dom.Document(d) {
		t.Error("DocumentOf: text node does not belong to d")
	}
}

func TestWrapperIdentity(t *testing.T) {
	d := MustParse(formPage)
	a := d.QuerySelector("#name")
	b := d.QuerySelector("input")
	if a != b {
		t.Error("QuerySelector: same node wrapped twice")
	}
	if a.ParentNode() != dom.Node(d.QuerySelector("#f")) {
		t.Error("ParentNode: want form")
	}
}

func TestControls(t *testing.T) {
	d := MustParse(formPage)

	name := d.MustQuery("#name")
	if name.ControlType() != "text" || name.Value() != "alice" {
		t.Errorf("name: got %q/%q", name.ControlType(), name.Value())
	}
	name.SetValue("bob")
	if name.Value() != "bob" {
		t.Errorf("SetValue: got %q, want bob", name.Value())
	}

	agree := d.MustQuery("#agree")
	if !agree.Checked() || agree.Value() != "on" {
		t.Errorf("checkbox: checked=%v value=%q", agree.Checked(), agree.Value())
	}
	agree.SetChecked(false)
	if agree.Checked() {
		t.Error("SetChecked(false): still checked")
	}

	if got := d.MustQuery("#bio").Value(); got != "hello" {
		t.Errorf("textarea: got %q", got)
	}

	one := d.MustQuery("#one")
	if one.ControlType() != "select-one" || one.Value() != "b" {
		t.Errorf("select-one: got %q/%q", one.ControlType(), one.Value())
	}
	one.SetValue("a")
	if one.Value() != "a" {
		t.Errorf("select SetValue: got %q, want a", one.Value())
	}

	many := d.MustQuery("#many")
	if many.ControlType() != "select-multiple" {
		t.Errorf("ControlType: got %q", many.ControlType())
	}
	if got := strings.Join(many.SelectedValues(), ","); got != "y,z" {
		t.Errorf("SelectedValues: got %q, want y,z", got)
	}
	many.SetSelectedValues([]string{"x"})
	if got := strings.Join(many.SelectedValues(), ","); got != "x" {
		t.Errorf("SetSelectedValues: got %q, want x", got)
	}

	if got := d.MustQuery("body").ControlType(); got != "" {
		t.Errorf("body ControlType: got %q, want empty", got)
	}

	form := d.MustQuery("#f")
	form.Submit()
	form.Submit()
	if form.Submissions() != 2 {
		t.Errorf("Submissions: got %d, want 2", form.Submissions())
	}
}

func TestInlineStyle(t *testing.T) {
	d := MustParse(`<div id="a" style="color: red; margin: 0 !important"></div>`)
	el := d.MustQuery("#a")
	st := el.Style()
	if st.Get("color") != "red" {
		t.Errorf("color: got %q", st.Get("color"))
	}
	st.Set("background", "blue")
	st.Set("color", "")
	if got := strings.Join(st.Properties(), ","); got != "margin,background" {
		t.Errorf("Properties: got %q", got)
	}
	style, _ := el.Attribute("style")
	if style != "margin: 0 !important; background: blue;" {
		t.Errorf("style attribute: got %q", style)
	}
}

func TestComputedStyle(t *testing.T) {
	d := MustParse(`<html><head><style>
p { color: green; }
.x { color: red; }
@media (max-width: 600px) { .x { color: purple; } }
</style></head><body><p class="x" id="p"><span id="s">t</span></p><div id="d"></div></body></html>`)

	p := d.MustQuery("#p")
	if got := p.ComputedStyle("color"); got != "red" {
		t.Errorf("p color: got %q, want red", got)
	}
	if got := d.MustQuery("#s").ComputedStyle("color"); got != "red" {
		t.Errorf("inherited color: got %q, want red", got)
	}
	if got := d.MustQuery("#d").ComputedStyle("color"); got != "" {
		t.Errorf("unstyled color: got %q, want empty", got)
	}
	p.Style().Set("color", "black")
	if got := p.ComputedStyle("color"); got != "black" {
		t.Errorf("inline wins: got %q", got)
	}

	narrow := MustParse(`<style>.x { color: red; } @media (max-width: 600px) { .x { color: purple; } }</style><p class="x"></p>`,
		WithViewport(400, 800))
	if got := narrow.MustQuery("p").ComputedStyle("color"); got != "purple" {
		t.Errorf("media rule: got %q, want purple", got)
	}
}

func TestLinkedStyleSheet(t *testing.T) {
	d := MustParse(`<html><head><link rel="stylesheet" href="/a.css"><link rel="stylesheet" href="/missing.css"></head><body></body></html>`,
		WithURL("https://example.com/page"),
		WithStyleSheet("/a.css", `@import "b.css"; body { margin: 0; }`),
		WithStyleSheet("https://example.com/b.css", `body { padding: 1px; }`),
	)
	sheets := d.StyleSheets()
	if len(sheets) != 1 {
		t.Fatalf("StyleSheets: got %d, want 1", len(sheets))
	}
	if imp := sheets[0].Import("b.css"); imp == nil || !strings.Contains(imp.CSSText(), "padding") {
		t.Errorf("Import: got %v", imp)
	}
	if got := d.MustQuery("body").ComputedStyle("padding"); got != "1px" {
		t.Errorf("imported padding: got %q, want 1px", got)
	}
}

func TestScroll(t *testing.T) {
	d := MustParse(`<html><body><div id="box"></div></body></html>`, WithViewport(800, 600))
	root := d.DocumentElement().(*Element)
	root.SetGeometry(dom.Geometry{ClientWidth: 800, ClientHeight: 600, ScrollWidth: 800, ScrollHeight: 2600})

	box := d.MustQuery("#box")
	box.SetGeometry(dom.Geometry{ClientWidth: 100, ClientHeight: 100, ScrollWidth: 100, ScrollHeight: 500})

	var targets []dom.Node
	remove := d.AddEventListener(dom.EventScroll, func(ev *dom.Event) { targets = append(targets, ev.Target) }, true)
	defer remove()

	box.SetScroll(0, 1000)
	if got := box.Geometry().ScrollTop; got != 400 {
		t.Errorf("clamped ScrollTop: got %v, want 400", got)
	}
	box.SetScroll(0, 400)

	d.Window().ScrollTo(0, 300)
	if _, y := d.Window().PageOffset(); y != 300 {
		t.Errorf("PageOffset: got %v, want 300", y)
	}
	if got := root.Geometry().ScrollTop; got != 300 {
		t.Errorf("scrolling element ScrollTop: got %v, want 300", got)
	}

	if len(targets) != 2 {
		t.Fatalf("scroll events: got %d, want 2", len(targets))
	}
	if targets[0] != dom.Node(box) || targets[1] != dom.Node(d) {
		t.Errorf("scroll targets: got %v", targets)
	}
}

func TestListeners(t *testing.T) {
	d := MustParse(`<p id="p"></p>`)
	var captured, bubbled int
	r1 := d.AddEventListener("click", func(*dom.Event) { captured++ }, true)
	r2 := d.AddEventListener("click", func(*dom.Event) { bubbled++ }, false)
	r3 := d.Window().AddEventListener(dom.EventUnload, func(*dom.Event) {}, false)
	if d.ListenerCount() != 3 {
		t.Fatalf("ListenerCount: got %d, want 3", d.ListenerCount())
	}

	p := d.MustQuery("#p")
	p.DispatchEvent(&dom.Event{Type: "click", Bubbles: true})
	p.DispatchEvent(&dom.Event{Type: "click"})
	if captured != 2 || bubbled != 1 {
		t.Errorf("dispatch: captured=%d bubbled=%d, want 2/1", captured, bubbled)
	}

	r1()
	r1()
	r2()
	r3()
	if d.ListenerCount() != 0 {
		t.Errorf("ListenerCount after remove: got %d", d.ListenerCount())
	}
}

func TestReadyStateEvents(t *testing.T) {
	d := MustParse(`<p></p>`, WithReadyState(dom.Loading))
	var seen []string
	d.AddEventListener(dom.EventDOMContentLoaded, func(ev *dom.Event) { seen = append(seen, ev.Type) }, false)
	d.AddEventListener(dom.EventReadyStateChange, func(ev *dom.Event) { seen = append(seen, ev.Type) }, false)

	d.SetReadyState(dom.Interactive)
	d.SetReadyState(dom.Complete)
	want := "readystatechange,DOMContentLoaded,readystatechange"
	if got := strings.Join(seen, ","); got != want {
		t.Errorf("events: got %q, want %q", got, want)
	}
}

func TestNavigate(t *testing.T) {
	var went string
	d := MustParse(`<p></p>`, WithURL("https://a.test/"), WithNavigator(func(u string) { went = u }))
	d.Navigate("https://b.test/")
	if d.URL() != "https://b.test/" || went != "https://b.test/" || d.Navigations() != 1 {
		t.Errorf("Navigate: url=%q hook=%q count=%d", d.URL(), went, d.Navigations())
	}
}

func TestMatchMedia(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"screen", true},
		{"print", false},
		{"not print", true},
		{"(min-width: 1000px)", true},
		{"(max-width: 600px)", false},
		{"print, (orientation: landscape)", true},
		{"screen and (min-width: 40em) and (max-height: 800px)", true},
		{"(min-width: 2000px)", false},
	}
	for _, tt := range tests {
		if got := matchMedia(tt.query, 1024, 768); got != tt.want {
			t.Errorf("matchMedia(%q): got %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	d := MustParse(`<p id="p"></p>`)
	d.MustQuery("#p").Style().Set("color", "red")
	out, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(out), `style="color: red;"`) {
		t.Errorf("Render: got %s", out)
	}
}
