package htmldoc

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pagesync/dom"
)

// inheritedProperties fall back to the parent's computed value.
var inheritedProperties = map[string]bool{
	"color":          true,
	"cursor":         true,
	"font-family":    true,
	"font-size":      true,
	"font-style":     true,
	"font-weight":    true,
	"letter-spacing": true,
	"line-height":    true,
	"text-align":     true,
	"visibility":     true,
}

// elementState is the live (property-level) state of an element, as opposed
// to its markup.
type elementState struct {
	geometry    dom.Geometry
	value       *string
	checked     *bool
	selected    *bool
	style       []declaration
	styleParsed bool
	submissions int
}

// CharData is a text, comment or doctype node.
type CharData struct {
	doc *Document
	n   *html.Node
}

func (c *CharData) NodeType() dom.NodeType {
	switch c.n.Type {
	case html.CommentNode:
		return dom.CommentNode
	case html.DoctypeNode:
		return dom.DoctypeNode
	default:
		return dom.TextNode
	}
}

func (c *CharData) NodeName() string {
	switch c.n.Type {
	case html.CommentNode:
		return "#comment"
	case html.DoctypeNode:
		return c.n.Data
	default:
		return "#text"
	}
}

func (c *CharData) ParentNode() dom.Node        { return c.doc.wrap(c.n.Parent) }
func (c *CharData) ChildNodes() []dom.Node      { return nil }
func (c *CharData) PreviousSibling() dom.Node   { return c.doc.wrap(c.n.PrevSibling) }
func (c *CharData) OwnerDocument() dom.Document { return c.doc }

// Data returns the character data.
func (c *CharData) Data() string { return c.n.Data }

// Element is an element node.
type Element struct {
	doc *Document
	n   *html.Node
}

func (e *Element) NodeType() dom.NodeType      { return dom.ElementNode }
func (e *Element) NodeName() string            { return strings.ToUpper(e.n.Data) }
func (e *Element) ParentNode() dom.Node        { return e.doc.wrap(e.n.Parent) }
func (e *Element) ChildNodes() []dom.Node      { return e.doc.children(e.n) }
func (e *Element) PreviousSibling() dom.Node   { return e.doc.wrap(e.n.PrevSibling) }
func (e *Element) OwnerDocument() dom.Document { return e.doc }

// HTMLNode returns the underlying html node.
func (e *Element) HTMLNode() *html.Node { return e.n }

// Attribute returns an attribute value.
func (e *Element) Attribute(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttribute writes an attribute.
func (e *Element) SetAttribute(name, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.n, name, value)
	if name == "style" {
		e.doc.state(e.n).styleParsed = false
	}
}

// Matches reports whether the element matches selector.
func (e *Element) Matches(selector string) bool {
	sel := e.doc.compile(selector)
	if sel == nil {
		return false
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return sel.Match(e.n)
}

// Style returns the inline style of the element.
func (e *Element) Style() dom.Style { return &inlineStyle{el: e} }

// ComputedStyle returns the inline value when set, the cascaded value from
// the document's stylesheets otherwise, and the parent's value for inherited
// properties.
func (e *Element) ComputedStyle(property string) string {
	property = strings.ToLower(strings.TrimSpace(property))
	if v := e.Style().Get(property); v != "" {
		return v
	}
	if v := e.doc.ruleIndex().Computed(e, property); v != "" {
		return v
	}
	if inheritedProperties[property] {
		if p, ok := e.ParentNode().(*Element); ok {
			return p.ComputedStyle(property)
		}
	}
	return ""
}

// Geometry returns the element box. The scrolling element reports the
// window offsets as its scroll position.
func (e *Element) Geometry() dom.Geometry {
	e.doc.mu.RLock()
	g := e.doc.state(e.n).geometry
	e.doc.mu.RUnlock()
	if e.isScrollingElement() {
		g.ScrollLeft, g.ScrollTop = e.doc.window.PageOffset()
	}
	return g
}

// SetGeometry replaces the element box metrics.
func (e *Element) SetGeometry(g dom.Geometry) {
	e.doc.mu.Lock()
	e.doc.state(e.n).geometry = g
	e.doc.mu.Unlock()
	if e.isScrollingElement() {
		e.doc.window.setOffset(g.ScrollLeft, g.ScrollTop)
	}
}

// SetScroll moves the scroll position, clamped to the scrollable range, and
// dispatches a scroll event when it changed. Scrolling the scrolling element
// scrolls the window.
func (e *Element) SetScroll(left, top float64) {
	if e.isScrollingElement() {
		e.doc.window.ScrollTo(left, top)
		return
	}
	e.doc.mu.Lock()
	st := e.doc.state(e.n)
	g := &st.geometry
	left = clamp(left, 0, g.ScrollWidth-g.ClientWidth)
	top = clamp(top, 0, g.ScrollHeight-g.ClientHeight)
	changed := g.ScrollLeft != left || g.ScrollTop != top
	g.ScrollLeft, g.ScrollTop = left, top
	e.doc.mu.Unlock()
	if changed {
		e.doc.dispatch(&dom.Event{Type: dom.EventScroll, Target: e})
	}
}

// DispatchEvent dispatches ev with the element as target.
func (e *Element) DispatchEvent(ev *dom.Event) {
	if ev.Target == nil {
		ev.Target = e
	}
	e.doc.dispatch(ev)
}

// ControlType returns the form control type, or "" for non-controls.
func (e *Element) ControlType() string {
	switch e.n.DataAtom {
	case atom.Input:
		t, _ := e.Attribute("type")
		if t == "" {
			return "text"
		}
		return strings.ToLower(t)
	case atom.Select:
		if _, ok := e.Attribute("multiple"); ok {
			return "select-multiple"
		}
		return "select-one"
	case atom.Textarea:
		return "textarea"
	}
	return ""
}

// Value returns the current control value.
func (e *Element) Value() string {
	switch e.n.DataAtom {
	case atom.Select:
		opts := e.options()
		for _, o := range opts {
			if o.isSelected() {
				return o.optionValue()
			}
		}
		if len(opts) > 0 && e.ControlType() == "select-one" {
			return opts[0].optionValue()
		}
		return ""
	case atom.Option:
		return e.optionValue()
	}

	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if v := e.doc.state(e.n).value; v != nil {
		return *v
	}
	if e.n.DataAtom == atom.Textarea {
		return textContent(e.n)
	}
	if v, ok := attrOK(e.n, "value"); ok {
		return v
	}
	if t := strings.ToLower(attr(e.n, "type")); t == "checkbox" || t == "radio" {
		return "on"
	}
	return ""
}

// SetValue sets the control value. On a single select it selects the first
// option carrying that value.
func (e *Element) SetValue(v string) {
	if e.n.DataAtom == atom.Select {
		found := false
		for _, o := range e.options() {
			sel := !found && o.optionValue() == v
			if sel {
				found = true
			}
			o.setSelected(sel)
		}
		return
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.state(e.n).value = &v
}

// Checked returns the checkedness of a checkbox or radio input.
func (e *Element) Checked() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if c := e.doc.state(e.n).checked; c != nil {
		return *c
	}
	return hasAttr(e.n, "checked")
}

// SetChecked sets the checkedness.
func (e *Element) SetChecked(c bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.state(e.n).checked = &c
}

// SelectedValues returns the values of the selected options of a select.
func (e *Element) SelectedValues() []string {
	var out []string
	for _, o := range e.options() {
		if o.isSelected() {
			out = append(out, o.optionValue())
		}
	}
	return out
}

// SetSelectedValues selects exactly the options whose value is listed.
func (e *Element) SetSelectedValues(values []string) {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	for _, o := range e.options() {
		o.setSelected(want[o.optionValue()])
	}
}

// Submit records a form submission.
func (e *Element) Submit() {
	if e.n.DataAtom != atom.Form {
		return
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.state(e.n).submissions++
}

// Submissions returns how many times Submit was called on a form.
func (e *Element) Submissions() int {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.state(e.n).submissions
}

func (e *Element) isScrollingElement() bool {
	se, ok := e.doc.ScrollingElement().(*Element)
	return ok && se == e
}

func (e *Element) options() []*Element {
	var out []*Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == atom.Option {
				out = append(out, e.doc.element(c))
				continue
			}
			walk(c)
		}
	}
	e.doc.mu.RLock()
	walk(e.n)
	e.doc.mu.RUnlock()
	return out
}

func (e *Element) optionValue() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if v, ok := attrOK(e.n, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(e.n))
}

func (e *Element) isSelected() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if s := e.doc.state(e.n).selected; s != nil {
		return *s
	}
	return hasAttr(e.n, "selected")
}

func (e *Element) setSelected(s bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.state(e.n).selected = &s
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
