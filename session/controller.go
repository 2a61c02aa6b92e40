// Package session implements the role controller of a sync session: the
// state machine that owns the active channel set of one document, reacts to
// protocol messages and emits captured envelopes.
//
// A controller bound to a document it can read (local) waits for readiness,
// becomes Guest and announces document-ready. A controller created without a
// document (remote) stands for a counterpart living in another context and
// only talks through its transport.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagesync/channel"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/readiness"
	"github.com/hazyhaar/pagesync/scheduler"
	"github.com/hazyhaar/pagesync/specificity"
	"github.com/hazyhaar/pagesync/transport"
	"github.com/hazyhaar/pagesync/viewport"
)

// ErrDisposed is returned by WaitReady once the controller is disposed.
var ErrDisposed = errors.New("session: controller disposed")

// Role is the controller state.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	}
	return "none"
}

// Option configures a Controller.
type Option func(*Controller)

// WithOptions sets the session options.
func WithOptions(o protocol.Options) Option {
	return func(c *Controller) { c.opts = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithReadyTimeout bounds the readiness wait. Default: 30s.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Controller) { c.readyTimeout = d }
}

// WithScheduler configures the outgoing event scheduler.
func WithScheduler(cfg scheduler.Config) Option {
	return func(c *Controller) { c.schedCfg = cfg }
}

// WithLocationDelay overrides the location channel delay.
func WithLocationDelay(d time.Duration) Option {
	return func(c *Controller) { c.locationDelay = d }
}

// WithEngine sets the specificity engine of the document. Controllers
// created for the same document should share one.
func WithEngine(e *specificity.Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// WithContext sets the parent context of the controller.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) { c.parent = ctx }
}

// Controller owns the channel set of one document.
type Controller struct {
	doc    dom.Document
	tr     transport.Transport
	logger *slog.Logger

	readyTimeout  time.Duration
	locationDelay time.Duration
	schedCfg      scheduler.Config
	engine        *specificity.Engine
	parent        context.Context

	sched  *scheduler.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readyCh   chan struct{}
	readyOnce sync.Once

	mu           sync.Mutex
	opts         protocol.Options
	role         Role
	ready        bool
	readyErr     error
	disposed     bool
	hostSet      *channel.HostSet
	hostUnsub    func()
	guestSet     *channel.GuestSet
	removeUnload func()
	peerViewport viewport.Meta

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(envelope.Envelope)
}

// New creates a controller for doc. doc may be nil for a remote
// controller; tr may be nil for a purely in-process local controller.
func New(doc dom.Document, tr transport.Transport, opts ...Option) *Controller {
	c := &Controller{
		doc:     doc,
		tr:      tr,
		parent:  context.Background(),
		readyCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.schedCfg.Logger == nil {
		c.schedCfg.Logger = c.logger
	}
	c.ctx, c.cancel = context.WithCancel(c.parent)
	c.sched = scheduler.New(c.schedCfg, c.deliverBatch)

	if doc == nil {
		c.transmit(protocol.NameSetOptions, c.opts)
		return c
	}

	if c.engine == nil {
		c.engine = specificity.NewEngine(specificity.WithLogger(c.logger))
	}
	if w := doc.DefaultView(); w != nil {
		c.removeUnload = w.AddEventListener(dom.EventUnload, func(ev *dom.Event) {
			if ev.Target == nil || ev.Target == dom.Node(doc) {
				c.Dispose()
			}
		}, false)
	}
	c.wg.Add(1)
	go c.awaitReady()
	return c
}

func (c *Controller) awaitReady() {
	defer c.wg.Done()
	err := readiness.Wait(c.ctx, c.doc, c.readyTimeout)
	if err != nil {
		var rt *readiness.ErrReadyTimeout
		if errors.As(err, &rt) {
			c.logger.Warn("session: document never became ready", "code", readiness.Code, "error", err)
		}
		c.mu.Lock()
		c.readyErr = err
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.ready = true
	c.becomeGuestLocked()
	c.mu.Unlock()
	c.markReady()
	c.logger.Debug("session: ready", "url", c.doc.URL())
	c.announceReady()
}

// Receive is the inbound entry point for transports. Messages from a
// foreign namespace or another session are ignored.
func (c *Controller) Receive(msg protocol.Message) {
	c.mu.Lock()
	accept := !c.disposed && c.opts.Accepts(msg)
	c.mu.Unlock()
	if !accept {
		return
	}
	if c.doc == nil {
		c.receiveRemote(msg)
		return
	}
	c.handleLocal(msg.Name, msg.Data)
}

// Send handles name locally once the document is ready (dropped before), or
// routes it through the transport for a remote controller. Remote events go
// through the scheduler.
func (c *Controller) Send(name string, data any) {
	c.mu.Lock()
	disposed, ready := c.disposed, c.ready
	c.mu.Unlock()
	if disposed {
		return
	}

	if c.doc == nil {
		if name == protocol.NameEvent {
			envs, err := toEnvelopes(data)
			if err != nil {
				c.logger.Debug("session: bad event payload", "error", err)
				return
			}
			for _, e := range envs {
				c.sched.Enqueue(e)
			}
			return
		}
		c.transmit(name, data)
		return
	}

	if !ready {
		c.logger.Debug("session: dropped before ready", "name", name)
		return
	}
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			c.logger.Debug("session: bad payload", "name", name, "error", err)
			return
		}
		raw = b
	}
	c.handleLocal(name, raw)
}

func (c *Controller) handleLocal(name string, data json.RawMessage) {
	c.mu.Lock()
	if c.disposed || !c.ready {
		c.mu.Unlock()
		return
	}
	switch name {
	case protocol.NameHost:
		if c.role != RoleHost {
			c.becomeHostLocked()
		}
		c.mu.Unlock()

	case protocol.NameGuest:
		if c.role != RoleGuest {
			c.becomeGuestLocked()
		}
		c.mu.Unlock()

	case protocol.NameEvent:
		gs := c.guestSet
		c.mu.Unlock()
		if gs == nil {
			return
		}
		envs, err := envelope.DecodeList(data)
		if err != nil {
			c.logger.Debug("session: bad event payload", "error", err)
			return
		}
		for _, e := range envs {
			gs.Apply(e)
		}

	case protocol.NameCheckDocumentReady:
		c.mu.Unlock()
		c.announceReady()

	case protocol.NameSetOptions:
		merged, err := c.opts.Merge(data)
		if err != nil {
			c.mu.Unlock()
			c.logger.Debug("session: bad options", "error", err)
			return
		}
		c.opts = merged
		if c.role == RoleGuest {
			c.becomeGuestLocked()
		}
		c.mu.Unlock()

	default:
		c.mu.Unlock()
	}
}

func (c *Controller) receiveRemote(msg protocol.Message) {
	switch msg.Name {
	case protocol.NameDocumentReady:
		var meta viewport.Meta
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &meta); err != nil {
				c.logger.Debug("session: bad viewport", "error", err)
			}
		}
		c.mu.Lock()
		c.ready = true
		c.peerViewport = meta
		c.mu.Unlock()
		c.markReady()

	case protocol.NameEvent:
		envs, err := envelope.DecodeList(msg.Data)
		if err != nil {
			c.logger.Debug("session: bad event payload", "error", err)
			return
		}
		for _, e := range envs {
			c.emit(e)
		}
	}
}

func (c *Controller) becomeHostLocked() {
	c.teardownLocked()
	hs := channel.NewHostSet(c.doc, c.channelOptions())
	c.hostUnsub = hs.Subscribe(c.onCaptured)
	c.hostSet = hs
	c.role = RoleHost
}

func (c *Controller) becomeGuestLocked() {
	c.teardownLocked()
	c.guestSet = channel.NewGuestSet(c.doc, c.channelOptions())
	c.role = RoleGuest
}

func (c *Controller) teardownLocked() {
	if c.hostUnsub != nil {
		c.hostUnsub()
		c.hostUnsub = nil
	}
	if c.hostSet != nil {
		c.hostSet.Dispose()
		c.hostSet = nil
	}
	if c.guestSet != nil {
		c.guestSet.Dispose()
		c.guestSet = nil
	}
}

func (c *Controller) channelOptions() channel.Options {
	return channel.Options{
		SameParent:    c.opts.SameParent,
		LocationDelay: c.locationDelay,
		Engine:        c.engine,
		Logger:        c.logger,
	}
}

// onCaptured receives host envelopes: subscribers get them at once, the
// transport through the scheduler.
func (c *Controller) onCaptured(e envelope.Envelope) {
	c.emit(e)
	if c.tr != nil {
		c.sched.Enqueue(e)
	}
}

func (c *Controller) deliverBatch(batch []envelope.Envelope) {
	c.transmit(protocol.NameEvent, batch)
}

func (c *Controller) announceReady() {
	if c.doc == nil || !readiness.IsReady(c.doc) {
		return
	}
	c.transmit(protocol.NameDocumentReady, viewport.Parse(c.doc))
}

func (c *Controller) transmit(name string, data any) {
	if c.tr == nil {
		return
	}
	msg, err := protocol.New(name, data, c.Options())
	if err != nil {
		c.logger.Warn("session: encode failed", "name", name, "error", err)
		return
	}
	if err := c.tr.Send(c.ctx, msg); err != nil {
		c.logger.Warn("session: transport send failed", "name", name, "error", err)
	}
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() { close(c.readyCh) })
}

// Subscribe registers fn for outgoing envelopes: captured ones in Host role,
// inbound event envelopes on a remote controller.
func (c *Controller) Subscribe(fn func(envelope.Envelope)) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) emit(e envelope.Envelope) {
	c.subMu.Lock()
	subs := append([]subscriber(nil), c.subs...)
	c.subMu.Unlock()
	for _, s := range subs {
		s.fn(e)
	}
}

// Dispose detaches every listener and channel and stops the readiness wait.
// Later calls are no-ops.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.teardownLocked()
	c.role = RoleNone
	removeUnload := c.removeUnload
	c.removeUnload = nil
	c.mu.Unlock()

	c.cancel()
	c.sched.Close()
	if removeUnload != nil {
		removeUnload()
	}
	c.subMu.Lock()
	c.subs = nil
	c.subMu.Unlock()
	c.wg.Wait()
}

// Role returns the current role.
func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Ready is closed once the document (or the remote peer) is ready.
func (c *Controller) Ready() <-chan struct{} { return c.readyCh }

// WaitReady blocks until Ready, ctx is done, or the readiness wait failed.
func (c *Controller) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		if err := c.ReadyErr(); err != nil {
			return err
		}
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrDisposed
	}
}

// ReadyErr returns the readiness failure, if any.
func (c *Controller) ReadyErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyErr
}

// Options returns the current session options.
func (c *Controller) Options() protocol.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// PeerViewport returns the viewport announced by a remote document.
func (c *Controller) PeerViewport() viewport.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerViewport
}

// Document returns the bound document, nil for a remote controller.
func (c *Controller) Document() dom.Document { return c.doc }

// Disposed reports whether Dispose was called.
func (c *Controller) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func toEnvelopes(data any) ([]envelope.Envelope, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case envelope.Envelope:
		return []envelope.Envelope{v}, nil
	case []envelope.Envelope:
		return v, nil
	case json.RawMessage:
		return envelope.DecodeList(v)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return envelope.DecodeList(b)
}
