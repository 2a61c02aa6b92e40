package channel

import (
	"sync"

	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
)

// HostSet aggregates every capture channel of one document. It disposes
// itself when the document's window unloads that document.
type HostSet struct {
	emitter
	sources      []Source
	unsubs       []func()
	removeUnload func()
	once         sync.Once
}

// NewHostSet creates the location, scroll, mouse and form hosts for doc.
func NewHostSet(doc dom.Document, opts Options) *HostSet {
	s := &HostSet{
		sources: []Source{
			NewLocationHost(doc, opts),
			NewScrollHost(doc, opts),
			NewMouseHost(doc, opts),
			NewFormHost(doc, opts),
		},
	}
	for _, src := range s.sources {
		s.unsubs = append(s.unsubs, src.Subscribe(s.emit))
	}
	if w := doc.DefaultView(); w != nil {
		s.removeUnload = w.AddEventListener(dom.EventUnload, func(ev *dom.Event) {
			if ev.Target == nil || ev.Target == dom.Node(doc) {
				s.Dispose()
			}
		}, false)
	}
	return s
}

// Dispose detaches every channel and the unload listener.
func (s *HostSet) Dispose() {
	s.once.Do(func() {
		for _, u := range s.unsubs {
			u()
		}
		for _, src := range s.sources {
			src.Dispose()
		}
		if s.removeUnload != nil {
			s.removeUnload()
		}
		s.clear()
	})
}

// GuestSet aggregates every replay channel of one document.
type GuestSet struct {
	mu       sync.RWMutex
	sinks    []Sink
	disposed bool
}

// NewGuestSet creates the location, scroll, mouse, form and hover sinks for
// doc.
func NewGuestSet(doc dom.Document, opts Options) *GuestSet {
	return &GuestSet{
		sinks: []Sink{
			LocationGuest(doc, opts),
			ScrollGuest(doc, opts),
			MouseGuest(doc, opts),
			FormGuest(doc, opts),
			HoverGuest(doc, opts),
		},
	}
}

// Apply hands env to every sink in order. It is a no-op once disposed, and
// stops early when a sink disposes the set.
func (s *GuestSet) Apply(env envelope.Envelope) {
	s.mu.RLock()
	sinks := s.sinks
	s.mu.RUnlock()
	for _, sink := range sinks {
		if s.Disposed() {
			return
		}
		sink(env)
	}
}

// Disposed reports whether Dispose was called.
func (s *GuestSet) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

// Dispose stops replay.
func (s *GuestSet) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.sinks = nil
	s.mu.Unlock()
}
