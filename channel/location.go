package channel

import (
	"sync"
	"time"

	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
)

// LocationHost announces the document URL once, after a short delay, so
// that guests follow host navigation.
type LocationHost struct {
	emitter
	mu       sync.Mutex
	timer    *time.Timer
	disposed bool
}

// NewLocationHost starts the announcement timer.
func NewLocationHost(doc dom.Document, opts Options) *LocationHost {
	delay := opts.LocationDelay
	if delay <= 0 {
		delay = DefaultLocationDelay
	}
	h := &LocationHost{}
	h.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.disposed {
			return
		}
		h.emit(envelope.New("", envelope.Location{URL: doc.URL()}))
	})
	return h
}

// Dispose stops a pending announcement. An announcement already running
// completes before Dispose returns. Subscribers must not call Dispose from
// their handler.
func (h *LocationHost) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return
	}
	h.disposed = true
	h.timer.Stop()
	h.clear()
}

// LocationGuest navigates doc when the announced URL differs from its own.
func LocationGuest(doc dom.Document, opts Options) Sink {
	log := opts.logger()
	return func(env envelope.Envelope) {
		loc, ok := env.Payload.(envelope.Location)
		if !ok || loc.URL == "" {
			return
		}
		if doc.URL() == loc.URL {
			return
		}
		log.Debug("channel: navigate", "url", loc.URL)
		doc.Navigate(loc.URL)
	}
}
