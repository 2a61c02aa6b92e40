// Package readiness waits for a document to become interactive.
package readiness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/pagesync/dom"
)

// DefaultTimeout bounds Wait.
const DefaultTimeout = 30 * time.Second

// Code identifies a readiness timeout in logs and on the wire.
const Code = "EREADYTIMEOUT"

// ErrReadyTimeout is returned when a document does not become interactive in
// time.
type ErrReadyTimeout struct {
	URL     string
	Timeout time.Duration
}

func (e *ErrReadyTimeout) Error() string {
	return fmt.Sprintf("readiness: document ready timeout after %s: %s", e.Timeout, e.URL)
}

// IsReady reports whether doc is interactive or complete.
func IsReady(doc dom.Document) bool {
	if doc == nil {
		return false
	}
	s := doc.ReadyState()
	return s == dom.Interactive || s == dom.Complete
}

// Wait returns when doc is ready, when timeout elapses (*ErrReadyTimeout),
// or when ctx is done (ctx.Err()). A timeout <= 0 uses DefaultTimeout.
func Wait(ctx context.Context, doc dom.Document, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if IsReady(doc) {
		return nil
	}

	ready := make(chan struct{})
	var once sync.Once
	signal := func(*dom.Event) {
		if IsReady(doc) {
			once.Do(func() { close(ready) })
		}
	}
	removeLoaded := doc.AddEventListener(dom.EventDOMContentLoaded, signal, false)
	defer removeLoaded()
	removeState := doc.AddEventListener(dom.EventReadyStateChange, signal, false)
	defer removeState()

	// The state may have changed before the listeners were attached.
	if IsReady(doc) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		return &ErrReadyTimeout{URL: doc.URL(), Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}
