// Package scheduler batches outgoing envelopes. The first envelope queued on
// an idle scheduler arms one flush on the next frame; the flush condenses
// the queue and delivers it.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagesync/envelope"
)

// FrameFunc runs fn once before the next frame and returns a function that
// cancels it if it has not run yet. fn must not be called synchronously.
type FrameFunc func(fn func()) (cancel func())

// TimerFrame approximates a display refresh with a timer.
func TimerFrame(interval time.Duration) FrameFunc {
	return func(fn func()) func() {
		t := time.AfterFunc(interval, fn)
		return func() { t.Stop() }
	}
}

// Config controls the batching behaviour.
type Config struct {
	// Frame schedules the flush. Default: TimerFrame(16ms).
	Frame FrameFunc
	// MaxBuffer flushes immediately when this many envelopes accumulate.
	// Default: 1000.
	MaxBuffer int
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Frame == nil {
		c.Frame = TimerFrame(16 * time.Millisecond)
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 1000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler accumulates envelopes and delivers condensed batches.
type Scheduler struct {
	cfg     Config
	deliver func([]envelope.Envelope)

	mu     sync.Mutex
	queue  []envelope.Envelope
	armed  bool
	cancel func()
	closed bool

	// deliverMu keeps batches in enqueue order.
	deliverMu sync.Mutex
}

// New creates a Scheduler delivering batches to deliver.
func New(cfg Config, deliver func([]envelope.Envelope)) *Scheduler {
	cfg.defaults()
	return &Scheduler{cfg: cfg, deliver: deliver}
}

// Enqueue adds e to the queue, arming a flush when the scheduler is idle.
func (s *Scheduler) Enqueue(e envelope.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	full := len(s.queue) >= s.cfg.MaxBuffer
	if !full && !s.armed {
		s.armed = true
		s.cancel = s.cfg.Frame(s.Flush)
	}
	s.mu.Unlock()

	if full {
		s.Flush()
	}
}

// Flush condenses and delivers the queue now. Empty batches are not
// delivered.
func (s *Scheduler) Flush() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.armed = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	condensed := Condense(batch)
	if len(condensed) == 0 {
		return
	}
	s.cfg.Logger.Debug("scheduler: flush", "queued", len(batch), "delivered", len(condensed))
	s.deliver(condensed)
}

// Pending returns the number of queued envelopes.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close cancels a pending flush and drops the queue. Later envelopes are
// ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queue = nil
	s.armed = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
