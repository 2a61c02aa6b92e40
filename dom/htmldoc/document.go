// Package htmldoc implements the dom capabilities over an in-memory
// golang.org/x/net/html tree. There is no layout engine: element geometry is
// whatever the caller sets with SetGeometry, and the viewport is a fixed
// size chosen at parse time.
//
// htmldoc backs the headless mirror daemon and the test suites of every
// pagesync package.
package htmldoc

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/specificity"
)

// Document is an in-memory dom.Document.
type Document struct {
	root *html.Node

	// mu guards the tree attributes, element state and document fields.
	mu         sync.RWMutex
	url        string
	readyState dom.ReadyState
	navigate   func(url string)
	navCount   int
	sheets     map[string]string // href -> css text for <link> and @import

	wrapMu   sync.Mutex
	wrappers map[*html.Node]dom.Node
	states   map[*html.Node]*elementState

	selMu     sync.Mutex
	selectors map[string]cascadia.Selector

	lmu       sync.Mutex
	listeners map[string][]*listenerEntry
	nextID    int

	idxMu sync.Mutex
	index *specificity.Index

	window *Window
}

type listenerEntry struct {
	id      int
	fn      dom.Listener
	capture bool
}

// Option configures a Document.
type Option func(*Document)

// WithURL sets the document URL.
func WithURL(u string) Option {
	return func(d *Document) { d.url = u }
}

// WithViewport sets the window inner size. Default: 1024x768.
func WithViewport(width, height float64) Option {
	return func(d *Document) {
		d.window.width = width
		d.window.height = height
	}
}

// WithReadyState sets the initial ready state. Default: complete.
func WithReadyState(s dom.ReadyState) Option {
	return func(d *Document) { d.readyState = s }
}

// WithStyleSheet registers the CSS text served for href, used by
// <link rel="stylesheet"> elements and @import rules.
func WithStyleSheet(href, css string) Option {
	return func(d *Document) { d.sheets[href] = css }
}

// WithNavigator sets the hook invoked by Navigate.
func WithNavigator(fn func(url string)) Option {
	return func(d *Document) { d.navigate = fn }
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	d := &Document{
		root:       root,
		url:        "about:blank",
		readyState: dom.Complete,
		sheets:     make(map[string]string),
		wrappers:   make(map[*html.Node]dom.Node),
		states:     make(map[*html.Node]*elementState),
		selectors:  make(map[string]cascadia.Selector),
		listeners:  make(map[string][]*listenerEntry),
	}
	d.window = &Window{doc: d, width: 1024, height: 768}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// MustParse parses s and panics on error. Intended for tests.
func MustParse(s string, opts ...Option) *Document {
	d, err := ParseString(s, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Root returns the underlying html node.
func (d *Document) Root() *html.Node { return d.root }

func (d *Document) NodeType() dom.NodeType        { return dom.DocumentNode }
func (d *Document) NodeName() string              { return "#document" }
func (d *Document) ParentNode() dom.Node          { return nil }
func (d *Document) PreviousSibling() dom.Node     { return nil }
func (d *Document) OwnerDocument() dom.Document   { return nil }
func (d *Document) ChildNodes() []dom.Node        { return d.children(d.root) }
func (d *Document) DefaultView() dom.Window       { return d.window }
func (d *Document) Window() *Window               { return d.window }
func (d *Document) ScrollingElement() dom.Element { return d.DocumentElement() }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.element(c)
		}
	}
	return nil
}

// Body returns the <body> element.
func (d *Document) Body() dom.Element {
	if n := findAtom(d.root, atom.Body); n != nil {
		return d.element(n)
	}
	return nil
}

// ReadyState returns the loading state.
func (d *Document) ReadyState() dom.ReadyState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readyState
}

// SetReadyState moves the document to s and dispatches readystatechange,
// plus DOMContentLoaded when leaving the loading state.
func (d *Document) SetReadyState(s dom.ReadyState) {
	d.mu.Lock()
	prev := d.readyState
	d.readyState = s
	d.mu.Unlock()
	if prev == s {
		return
	}
	d.dispatch(&dom.Event{Type: dom.EventReadyStateChange, Target: d})
	if prev == dom.Loading {
		d.dispatch(&dom.Event{Type: dom.EventDOMContentLoaded, Target: d, Bubbles: true})
	}
}

// URL returns the current location.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Navigate changes the location and calls the navigator hook.
func (d *Document) Navigate(u string) {
	d.mu.Lock()
	d.url = u
	d.navCount++
	fn := d.navigate
	d.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// Navigations returns how many times Navigate was called.
func (d *Document) Navigations() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.navCount
}

// Unload dispatches unload on the window with the document as target.
func (d *Document) Unload() {
	d.window.dispatch(&dom.Event{Type: dom.EventUnload, Target: d})
}

// QuerySelector returns the first element matching selector.
func (d *Document) QuerySelector(selector string) dom.Element {
	d.mu.RLock()
	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	d.mu.RUnlock()
	if len(nodes) == 0 {
		return nil
	}
	return d.element(nodes[0])
}

// QuerySelectorAll returns every element matching selector in tree order.
func (d *Document) QuerySelectorAll(selector string) []dom.Element {
	d.mu.RLock()
	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	d.mu.RUnlock()
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.element(n))
	}
	return out
}

// MustQuery returns the element matching selector or panics. Intended for
// tests.
func (d *Document) MustQuery(selector string) *Element {
	el := d.QuerySelector(selector)
	if el == nil {
		panic("htmldoc: no element matches " + selector)
	}
	return el.(*Element)
}

// AddStyleSheet registers CSS text for href and drops the cached rule index.
func (d *Document) AddStyleSheet(href, css string) {
	d.mu.Lock()
	d.sheets[href] = css
	d.mu.Unlock()
	d.invalidateIndex()
}

// StyleSheets returns the <style> and <link rel="stylesheet"> sheets in
// document order. Links whose href was never registered are skipped.
func (d *Document) StyleSheets() []dom.StyleSheet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []dom.StyleSheet
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Style:
				out = append(out, &StyleSheet{
					doc:      d,
					text:     textContent(n),
					media:    attr(n, "media"),
					disabled: hasAttr(n, "disabled"),
				})
			case atom.Link:
				if strings.EqualFold(attr(n, "rel"), "stylesheet") {
					href := attr(n, "href")
					if css, ok := d.sheets[href]; ok {
						out = append(out, &StyleSheet{
							doc:      d,
							href:     href,
							text:     css,
							media:    attr(n, "media"),
							disabled: hasAttr(n, "disabled"),
						})
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// AddEventListener registers a document-level listener.
func (d *Document) AddEventListener(typ string, l dom.Listener, capture bool) func() {
	d.lmu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners[typ] = append(d.listeners[typ], &listenerEntry{id: id, fn: l, capture: capture})
	d.lmu.Unlock()
	return func() { d.removeListener(typ, id) }
}

func (d *Document) removeListener(typ string, id int) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	entries := d.listeners[typ]
	for i, e := range entries {
		if e.id == id {
			d.listeners[typ] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.listeners[typ]) == 0 {
		delete(d.listeners, typ)
	}
}

// ListenerCount returns the number of listeners registered on the document
// and its window.
func (d *Document) ListenerCount() int {
	d.lmu.Lock()
	n := 0
	for _, entries := range d.listeners {
		n += len(entries)
	}
	d.lmu.Unlock()
	return n + d.window.listenerCount()
}

// dispatch delivers ev to document listeners. Capture listeners see every
// event; bubble listeners only see bubbling events or events targeted at the
// document itself.
func (d *Document) dispatch(ev *dom.Event) {
	d.lmu.Lock()
	entries := append([]*listenerEntry(nil), d.listeners[ev.Type]...)
	d.lmu.Unlock()

	atDocument := ev.Target == dom.Node(d)
	for _, e := range entries {
		if e.capture {
			e.fn(ev)
		}
	}
	if !ev.Bubbles && !atDocument {
		return
	}
	for _, e := range entries {
		if !e.capture {
			e.fn(ev)
		}
	}
}

// DispatchEvent dispatches ev with the document as target.
func (d *Document) DispatchEvent(ev *dom.Event) {
	if ev.Target == nil {
		ev.Target = d
	}
	d.dispatch(ev)
}

// Render serialises the document, inline style and form state included.
func (d *Document) Render() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return nil, fmt.Errorf("htmldoc: render: %w", err)
	}
	return buf.Bytes(), nil
}

// ruleIndex returns the cached rule index, building it on first use.
func (d *Document) ruleIndex() *specificity.Index {
	d.idxMu.Lock()
	defer d.idxMu.Unlock()
	if d.index == nil {
		d.index = specificity.BuildIndex(d)
	}
	return d.index
}

func (d *Document) invalidateIndex() {
	d.idxMu.Lock()
	d.index = nil
	d.idxMu.Unlock()
}

func (d *Document) compile(selector string) cascadia.Selector {
	d.selMu.Lock()
	defer d.selMu.Unlock()
	if s, ok := d.selectors[selector]; ok {
		return s
	}
	s, err := cascadia.Compile(selector)
	if err != nil {
		s = nil
	}
	d.selectors[selector] = s
	return s
}

// wrap returns the stable dom.Node for n.
func (d *Document) wrap(n *html.Node) dom.Node {
	if n == nil {
		return nil
	}
	if n == d.root {
		return d
	}
	d.wrapMu.Lock()
	defer d.wrapMu.Unlock()
	if w, ok := d.wrappers[n]; ok {
		return w
	}
	var w dom.Node
	if n.Type == html.ElementNode {
		w = &Element{doc: d, n: n}
	} else {
		w = &CharData{doc: d, n: n}
	}
	d.wrappers[n] = w
	return w
}

func (d *Document) element(n *html.Node) *Element {
	el, _ := d.wrap(n).(*Element)
	return el
}

func (d *Document) children(n *html.Node) []dom.Node {
	var out []dom.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, d.wrap(c))
	}
	return out
}

// state returns the mutable per-element state. Caller holds d.mu.
func (d *Document) state(n *html.Node) *elementState {
	d.wrapMu.Lock()
	defer d.wrapMu.Unlock()
	s, ok := d.states[n]
	if !ok {
		s = &elementState{}
		d.states[n] = s
	}
	return s
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findAtom(c, a); f != nil {
			return f
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
