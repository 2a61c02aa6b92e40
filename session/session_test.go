package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/pagesync/address"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/dom/htmldoc"
	"github.com/hazyhaar/pagesync/envelope"
	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/readiness"
	"github.com/hazyhaar/pagesync/scheduler"
	"github.com/hazyhaar/pagesync/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const page = `<html><head><meta name="viewport" content="width=640, initial-scale=1"></head><body>
<div id="box"></div>
<input id="name">
</body></html>`

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) send(_ context.Context, m protocol.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) named(name string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.msgs {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, name string, n int) []protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.named(name); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q messages", n, name)
	return nil
}

type manualFrame struct {
	mu  sync.Mutex
	fns []func()
}

func (m *manualFrame) frame(fn func()) func() {
	m.mu.Lock()
	m.fns = append(m.fns, fn)
	m.mu.Unlock()
	return func() {}
}

func (m *manualFrame) run() {
	m.mu.Lock()
	fns := m.fns
	m.fns = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func waitReady(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func newLocal(t *testing.T, doc *htmldoc.Document, tr transport.Transport, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLocationDelay(time.Hour)}, opts...)
	c := New(doc, tr, opts...)
	t.Cleanup(c.Dispose)
	waitReady(t, c)
	return c
}

func TestLocalBecomesGuestAndAnnounces(t *testing.T) {
	rec := &recorder{}
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, transport.NewCallback(rec.send))

	if c.Role() != RoleGuest {
		t.Errorf("role: got %v, want guest", c.Role())
	}
	msgs := rec.waitFor(t, protocol.NameDocumentReady, 1)
	var meta map[string]any
	if err := json.Unmarshal(msgs[0].Data, &meta); err != nil {
		t.Fatalf("unmarshal viewport: %v", err)
	}
	if meta["width"] != float64(640) {
		t.Errorf("viewport width: got %v, want 640", meta["width"])
	}
}

func TestLocalWaitsForLoading(t *testing.T) {
	doc := htmldoc.MustParse(page, htmldoc.WithReadyState(dom.Loading))
	c := New(doc, nil)
	defer c.Dispose()

	if c.Role() != RoleNone {
		t.Errorf("role before ready: got %v, want none", c.Role())
	}
	c.Send(protocol.NameHost, nil)
	if c.Role() != RoleNone {
		t.Errorf("host before ready: got %v, want none", c.Role())
	}

	doc.SetReadyState(dom.Interactive)
	waitReady(t, c)
	if c.Role() != RoleGuest {
		t.Errorf("role after ready: got %v, want guest", c.Role())
	}
}

func TestReadyTimeoutCreatesNoChannels(t *testing.T) {
	doc := htmldoc.MustParse(page, htmldoc.WithReadyState(dom.Loading))
	c := New(doc, nil, WithReadyTimeout(20*time.Millisecond))
	defer c.Dispose()

	deadline := time.Now().Add(2 * time.Second)
	for c.ReadyErr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	var rt *readiness.ErrReadyTimeout
	if !errors.As(c.ReadyErr(), &rt) {
		t.Fatalf("ReadyErr: got %v, want ErrReadyTimeout", c.ReadyErr())
	}
	if c.Role() != RoleNone {
		t.Errorf("role: got %v, want none", c.Role())
	}
	if n := doc.ListenerCount(); n != 1 {
		t.Errorf("listeners: got %d, want 1 (unload)", n)
	}
}

func TestRoleTransitionsIdempotent(t *testing.T) {
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, nil)
	guestCount := doc.ListenerCount()

	c.Send(protocol.NameHost, nil)
	hostCount := doc.ListenerCount()
	if hostCount <= guestCount {
		t.Fatalf("host listeners: got %d, want more than %d", hostCount, guestCount)
	}
	c.Send(protocol.NameHost, nil)
	if n := doc.ListenerCount(); n != hostCount {
		t.Errorf("second host: got %d listeners, want %d", n, hostCount)
	}
	if c.Role() != RoleHost {
		t.Errorf("role: got %v, want host", c.Role())
	}

	c.Send(protocol.NameGuest, nil)
	c.Send(protocol.NameGuest, nil)
	if n := doc.ListenerCount(); n != guestCount {
		t.Errorf("back to guest: got %d listeners, want %d", n, guestCount)
	}
	if c.Role() != RoleGuest {
		t.Errorf("role: got %v, want guest", c.Role())
	}
}

func TestGroupReplaysHostOnGuests(t *testing.T) {
	hostDoc := htmldoc.MustParse(page)
	guestA := htmldoc.MustParse(page)
	guestB := htmldoc.MustParse(page)
	for _, d := range []*htmldoc.Document{hostDoc, guestA, guestB} {
		d.MustQuery("#box").SetGeometry(dom.Geometry{ClientHeight: 100, ScrollHeight: 300})
	}

	host := newLocal(t, hostDoc, nil)
	a := newLocal(t, guestA, nil)
	b := newLocal(t, guestB, nil)

	g := NewGroup(nil)
	g.Add(host)
	g.Add(a)
	g.Add(b)
	if err := g.Promote(host); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if g.Host() != host || host.Role() != RoleHost {
		t.Fatalf("host not promoted")
	}

	in := hostDoc.MustQuery("#name")
	in.SetValue("hello")
	in.DispatchEvent(&dom.Event{Type: "input"})
	hostDoc.MustQuery("#box").SetScroll(0, 100)

	for name, d := range map[string]*htmldoc.Document{"a": guestA, "b": guestB} {
		if v := d.MustQuery("#name").Value(); v != "hello" {
			t.Errorf("guest %s value: got %q, want %q", name, v, "hello")
		}
		if top := d.MustQuery("#box").Geometry().ScrollTop; top != 100 {
			t.Errorf("guest %s ScrollTop: got %v, want 100", name, top)
		}
	}

	stranger := New(nil, nil)
	defer stranger.Dispose()
	if err := g.Promote(stranger); !errors.Is(err, ErrNotMember) {
		t.Errorf("Promote stranger: got %v, want ErrNotMember", err)
	}
}

func TestLocalHostForwardsThroughScheduler(t *testing.T) {
	rec := &recorder{}
	mf := &manualFrame{}
	doc := htmldoc.MustParse(page)
	doc.MustQuery("#box").SetGeometry(dom.Geometry{ClientHeight: 100, ScrollHeight: 500})
	c := newLocal(t, doc, transport.NewCallback(rec.send), WithScheduler(scheduler.Config{Frame: mf.frame}))

	c.Send(protocol.NameHost, nil)
	box := doc.MustQuery("#box")
	box.SetScroll(0, 100)
	box.SetScroll(0, 200)
	if got := rec.named(protocol.NameEvent); len(got) != 0 {
		t.Fatalf("events before frame: got %d, want 0", len(got))
	}

	mf.run()
	got := rec.named(protocol.NameEvent)
	if len(got) != 1 {
		t.Fatalf("event messages: got %d, want 1", len(got))
	}
	envs, err := envelope.DecodeList(got[0].Data)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("batch: got %d envelopes, want 1", len(envs))
	}
	if s := envs[0].Payload.(envelope.Scroll); s.Top != 200 {
		t.Errorf("collapsed top: got %v, want 200", s.Top)
	}
}

func TestRemoteController(t *testing.T) {
	rec := &recorder{}
	mf := &manualFrame{}
	c := New(nil, transport.NewCallback(rec.send),
		WithOptions(protocol.Options{SessionID: "s1"}),
		WithScheduler(scheduler.Config{Frame: mf.frame}))
	defer c.Dispose()

	set := rec.named(protocol.NameSetOptions)
	if len(set) != 1 || set[0].SessionID != "s1" {
		t.Fatalf("set-options: got %+v", set)
	}

	target := address.Address("/HTML[1]")
	c.Send(protocol.NameEvent, envelope.New(target, envelope.Scroll{Top: 10}))
	c.Send(protocol.NameEvent, []envelope.Envelope{envelope.New(target, envelope.Scroll{Top: 20})})
	mf.run()
	events := rec.named(protocol.NameEvent)
	if len(events) != 1 {
		t.Fatalf("event messages: got %d, want 1", len(events))
	}

	c.Send(protocol.NameCheckDocumentReady, nil)
	if got := rec.named(protocol.NameCheckDocumentReady); len(got) != 1 {
		t.Errorf("check-document-ready: got %d, want 1", len(got))
	}

	var received []envelope.Envelope
	c.Subscribe(func(e envelope.Envelope) { received = append(received, e) })

	ready, _ := protocol.New(protocol.NameDocumentReady, map[string]any{"width": 640}, protocol.Options{SessionID: "s1"})
	c.Receive(ready)
	select {
	case <-c.Ready():
	default:
		t.Fatal("remote not ready after document-ready")
	}
	if w, ok := c.PeerViewport().Width(); !ok || w != 640 {
		t.Errorf("peer width: got %d %v, want 640", w, ok)
	}

	foreign, _ := protocol.New(protocol.NameEvent, []envelope.Envelope{envelope.New(target, envelope.Scroll{})}, protocol.Options{SessionID: "s2"})
	c.Receive(foreign)
	if len(received) != 0 {
		t.Errorf("foreign session delivered %d envelopes", len(received))
	}
	own, _ := protocol.New(protocol.NameEvent, []envelope.Envelope{envelope.New(target, envelope.Scroll{})}, protocol.Options{SessionID: "s1"})
	c.Receive(own)
	if len(received) != 1 {
		t.Errorf("own session: got %d envelopes, want 1", len(received))
	}
}

func TestHostReachesGuestWithOtherDocumentID(t *testing.T) {
	mf := &manualFrame{}
	guestDoc := htmldoc.MustParse(page)
	guest := newLocal(t, guestDoc, nil, WithOptions(protocol.Options{SessionID: "s1", DocumentID: "guest-1"}))

	hostDoc := htmldoc.MustParse(page)
	host := newLocal(t, hostDoc, transport.Deliver(guest.Receive),
		WithOptions(protocol.Options{SessionID: "s1", DocumentID: "host-1"}),
		WithScheduler(scheduler.Config{Frame: mf.frame}))

	host.Send(protocol.NameHost, nil)
	in := hostDoc.MustQuery("#name")
	in.SetValue("typed")
	in.DispatchEvent(&dom.Event{Type: "input"})
	mf.run()

	if v := guestDoc.MustQuery("#name").Value(); v != "typed" {
		t.Errorf("guest value: got %q, want %q", v, "typed")
	}
}

func TestReceiveFiltersNamespace(t *testing.T) {
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, nil)

	c.Receive(protocol.Message{NS: "other", Name: protocol.NameHost})
	if c.Role() != RoleGuest {
		t.Errorf("foreign namespace: role %v, want guest", c.Role())
	}
	msg, _ := protocol.New(protocol.NameHost, nil, protocol.Options{})
	c.Receive(msg)
	if c.Role() != RoleHost {
		t.Errorf("host message: role %v, want host", c.Role())
	}
}

func TestCheckDocumentReadyAnswers(t *testing.T) {
	rec := &recorder{}
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, transport.NewCallback(rec.send))
	rec.waitFor(t, protocol.NameDocumentReady, 1)

	msg, _ := protocol.New(protocol.NameCheckDocumentReady, nil, protocol.Options{})
	c.Receive(msg)
	rec.waitFor(t, protocol.NameDocumentReady, 2)
}

func TestSetOptionsMerges(t *testing.T) {
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, nil, WithOptions(protocol.Options{SessionID: "s1"}))

	c.Send(protocol.NameSetOptions, map[string]any{"sameParent": true})
	o := c.Options()
	if !o.SameParent || o.SessionID != "s1" {
		t.Errorf("options: got %+v", o)
	}
	if c.Role() != RoleGuest {
		t.Errorf("role: got %v, want guest", c.Role())
	}
}

func TestDispose(t *testing.T) {
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, nil)
	c.Send(protocol.NameHost, nil)

	c.Dispose()
	c.Dispose()
	if n := doc.ListenerCount(); n != 0 {
		t.Errorf("listeners after dispose: got %d, want 0", n)
	}
	c.Send(protocol.NameHost, nil)
	if c.Role() != RoleNone {
		t.Errorf("role after dispose: got %v, want none", c.Role())
	}
}

func TestUnloadDisposes(t *testing.T) {
	doc := htmldoc.MustParse(page)
	c := newLocal(t, doc, nil)
	c.Send(protocol.NameHost, nil)

	doc.Unload()
	if !c.Disposed() {
		t.Error("controller not disposed on unload")
	}
	if n := doc.ListenerCount(); n != 0 {
		t.Errorf("listeners after unload: got %d, want 0", n)
	}
}
