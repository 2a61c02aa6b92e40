package htmldoc

import (
	"sync"

	"github.com/hazyhaar/pagesync/dom"
)

// Window is the fixed-size viewport of a Document.
type Window struct {
	doc    *Document
	width  float64
	height float64

	mu      sync.Mutex
	scrollX float64
	scrollY float64

	lmu       sync.Mutex
	listeners map[string][]*listenerEntry
	nextID    int
}

func (w *Window) InnerWidth() float64  { return w.width }
func (w *Window) InnerHeight() float64 { return w.height }

// PageOffset returns the page scroll position.
func (w *Window) PageOffset() (float64, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scrollX, w.scrollY
}

// ScrollTo scrolls the page, clamped to the scrolling element's range, and
// dispatches a scroll event targeted at the document when the offset moved.
func (w *Window) ScrollTo(x, y float64) {
	maxX, maxY := w.maxScroll()
	x = clamp(x, 0, maxX)
	y = clamp(y, 0, maxY)
	w.mu.Lock()
	changed := w.scrollX != x || w.scrollY != y
	w.scrollX, w.scrollY = x, y
	w.mu.Unlock()
	if changed {
		w.doc.dispatch(&dom.Event{Type: dom.EventScroll, Target: w.doc, Bubbles: true})
	}
}

func (w *Window) setOffset(x, y float64) {
	w.mu.Lock()
	w.scrollX, w.scrollY = x, y
	w.mu.Unlock()
}

func (w *Window) maxScroll() (float64, float64) {
	el, ok := w.doc.ScrollingElement().(*Element)
	if !ok || el == nil {
		return 0, 0
	}
	w.doc.mu.RLock()
	g := w.doc.state(el.n).geometry
	w.doc.mu.RUnlock()
	return g.ScrollWidth - w.width, g.ScrollHeight - w.height
}

// MatchMedia evaluates a media query against the viewport.
func (w *Window) MatchMedia(query string) bool {
	return matchMedia(query, w.width, w.height)
}

// AddEventListener registers a window listener.
func (w *Window) AddEventListener(typ string, l dom.Listener, capture bool) func() {
	w.lmu.Lock()
	if w.listeners == nil {
		w.listeners = make(map[string][]*listenerEntry)
	}
	w.nextID++
	id := w.nextID
	w.listeners[typ] = append(w.listeners[typ], &listenerEntry{id: id, fn: l, capture: capture})
	w.lmu.Unlock()
	return func() {
		w.lmu.Lock()
		defer w.lmu.Unlock()
		entries := w.listeners[typ]
		for i, e := range entries {
			if e.id == id {
				w.listeners[typ] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(w.listeners[typ]) == 0 {
			delete(w.listeners, typ)
		}
	}
}

func (w *Window) dispatch(ev *dom.Event) {
	w.lmu.Lock()
	entries := append([]*listenerEntry(nil), w.listeners[ev.Type]...)
	w.lmu.Unlock()
	for _, e := range entries {
		e.fn(ev)
	}
}

func (w *Window) listenerCount() int {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	n := 0
	for _, entries := range w.listeners {
		n += len(entries)
	}
	return n
}
