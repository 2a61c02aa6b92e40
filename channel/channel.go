// Package channel captures interactions on a host document as envelopes and
// replays envelopes onto guest documents. Each category provides a Host
// constructor returning a Source and a Guest constructor returning a Sink;
// HostSet and GuestSet aggregate every category.
package channel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagesync/address"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
	"github.com/hazyhaar/pagesync/specificity"
)

// DefaultLocationDelay is how long the location host waits before
// announcing the URL.
const DefaultLocationDelay = 100 * time.Millisecond

// Handler receives captured envelopes.
type Handler func(envelope.Envelope)

// Source is a host-side capture channel.
type Source interface {
	// Subscribe registers h and returns its disposer.
	Subscribe(h Handler) (unsubscribe func())
	// Dispose detaches every listener. It is safe to call more than once.
	Dispose()
}

// Sink applies one envelope to a guest document. Envelopes of a foreign
// category and addresses that do not resolve are ignored.
type Sink func(envelope.Envelope)

// Options configures channels.
type Options struct {
	// SameParent is set when host and guest share a rendering parent.
	SameParent bool
	// LocationDelay overrides DefaultLocationDelay.
	LocationDelay time.Duration
	// Engine is the per-document specificity engine used by hover replay.
	// A private one is created when nil.
	Engine *specificity.Engine
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// emitter fans envelopes out to subscribers. Subscribers are copied before
// delivery so a handler may unsubscribe itself.
type emitter struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	h  Handler
}

func (e *emitter) Subscribe(h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscriber{id: id, h: h})
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter) emit(env envelope.Envelope) {
	e.mu.Lock()
	subs := append([]subscriber(nil), e.subs...)
	e.mu.Unlock()
	for _, s := range subs {
		s.h(env)
	}
}

func (e *emitter) clear() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}

// listeners owns a set of DOM listener disposers.
type listeners struct {
	once    sync.Once
	removes []func()
}

func (l *listeners) add(target dom.EventTarget, types []string, fn dom.Listener) {
	for _, typ := range types {
		l.removes = append(l.removes, target.AddEventListener(typ, fn, true))
	}
}

func (l *listeners) dispose() {
	l.once.Do(func() {
		for _, r := range l.removes {
			r()
		}
		l.removes = nil
	})
}

// resolveElement resolves target in doc, logging misses at debug level.
func resolveElement(doc dom.Document, target address.Address, log *slog.Logger) (dom.Element, bool) {
	el, ok := address.ResolveElement(target, doc)
	if !ok {
		log.Debug("channel: address not resolved", "target", target)
	}
	return el, ok
}

// isPageScroller reports whether el scrolls the viewport.
func isPageScroller(el dom.Element) bool {
	doc := dom.DocumentOf(el)
	if doc == nil {
		return false
	}
	se := doc.ScrollingElement()
	if se == nil {
		se = doc.Body()
	}
	return se != nil && dom.Node(se) == dom.Node(el)
}

func viewportSize(el dom.Element) (float64, float64) {
	if isPageScroller(el) {
		if w := dom.DocumentOf(el).DefaultView(); w != nil {
			return w.InnerWidth(), w.InnerHeight()
		}
	}
	g := el.Geometry()
	return g.ClientWidth, g.ClientHeight
}
