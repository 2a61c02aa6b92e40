package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/goleak"

	"github.com/hazyhaar/pagesync/address"
	"github.com/hazyhaar/pagesync/dom"
	"github.com/hazyhaar/pagesync/envelope"
	"github.com/hazyhaar/pagesync/fetcher"
	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/session"
	"github.com/hazyhaar/pagesync/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var pages = map[string]string{
	"https://example.com/one": `<html><head><style>#t { color: blue; }</style></head><body><input id="t"></body></html>`,
	"https://example.com/two": `<html><body><p id="two">second</p></body></html>`,
	"https://example.com/three": `<html><body><p id="x" onclick="steal()">third</p><script>steal()</script>` +
		`<input id="q" name="q" value="v"></body></html>`,
}

var staticLoader = LoaderFunc(func(_ context.Context, url string) (*fetcher.Page, error) {
	html, ok := pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return &fetcher.Page{URL: url, HTML: []byte(html), Sufficient: true}, nil
})

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

func (r *recorder) documentsReady() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, m := range r.msgs {
		if m.Name == protocol.NameDocumentReady {
			ids = append(ids, m.DocumentID)
		}
	}
	return ids
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func eventMessage(t *testing.T, sid string, envs ...envelope.Envelope) protocol.Message {
	t.Helper()
	msg, err := protocol.New(protocol.NameEvent, envs, protocol.Options{SessionID: sid})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestMirrorReplaysAndNavigates(t *testing.T) {
	rec := &recorder{}
	m := New(Config{ID: "m", URL: "https://example.com/one", Session: "s1"}, staticLoader, transport.NewCallback(rec.send))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	eventually(t, "first document-ready", func() bool { return len(rec.documentsReady()) == 1 })
	if ids := rec.documentsReady(); ids[0] != "m-1" {
		t.Errorf("document id: got %q, want m-1", ids[0])
	}
	first := m.Document()
	if got := first.MustQuery("#t").ComputedStyle("color"); got != "blue" {
		t.Errorf("computed color: got %q, want blue", got)
	}

	target := address.Serialize(first.MustQuery("#t"))
	m.Receive(eventMessage(t, "s1", envelope.New(target, envelope.Form{Type: "input", Kind: envelope.KindText, Value: "typed"})))
	if v := first.MustQuery("#t").Value(); v != "typed" {
		t.Errorf("replayed value: got %q, want typed", v)
	}
	m.Receive(eventMessage(t, "other", envelope.New(target, envelope.Form{Type: "input", Kind: envelope.KindText, Value: "foreign"})))
	if v := first.MustQuery("#t").Value(); v != "typed" {
		t.Errorf("foreign session applied: got %q", v)
	}

	m.Receive(eventMessage(t, "s1", envelope.New("", envelope.Location{URL: "https://example.com/two"})))
	eventually(t, "second document-ready", func() bool { return len(rec.documentsReady()) == 2 })
	if m.Document().QuerySelector("#two") == nil {
		t.Error("navigation did not swap the document")
	}
	if n := first.ListenerCount(); n != 0 {
		t.Errorf("old document listeners: got %d, want 0", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if m.Controller() != nil {
		t.Error("controller kept after Run returned")
	}
}

func TestMirrorNavigationFailureKeepsDocument(t *testing.T) {
	rec := &recorder{}
	m := New(Config{URL: "https://example.com/one", Session: "s1"}, staticLoader, transport.NewCallback(rec.send))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	eventually(t, "document-ready", func() bool { return len(rec.documentsReady()) == 1 })

	first := m.Document()
	m.Receive(eventMessage(t, "s1", envelope.New("", envelope.Location{URL: "https://example.com/missing"})))
	time.Sleep(50 * time.Millisecond)
	if m.Document() != first {
		t.Error("failed navigation replaced the document")
	}
	cancel()
	<-done
}

func TestRunLoadError(t *testing.T) {
	m := New(Config{URL: "https://example.com/missing"}, staticLoader, nil)
	if err := m.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("Run: got %v, want load error", err)
	}
}

func TestSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := &recorder{}
	m := New(Config{URL: "https://example.com/two", Session: "s1", SnapshotDir: "/snapshots", FS: fs}, staticLoader, transport.NewCallback(rec.send))
	if _, err := m.Snapshot(); err == nil {
		t.Error("Snapshot before load: want error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	eventually(t, "document-ready", func() bool { return len(rec.documentsReady()) == 1 })

	path, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if filepath.Dir(path) != "/snapshots" {
		t.Errorf("snapshot path: got %s", path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(data), `<p id="two">second</p>`) {
		t.Errorf("snapshot: got %s", data)
	}
}

func TestSnapshotSanitized(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := &recorder{}
	m := New(Config{URL: "https://example.com/three", Session: "s1", SnapshotDir: "/snapshots", FS: fs, SanitizeSnapshots: true},
		staticLoader, transport.NewCallback(rec.send))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	eventually(t, "document-ready", func() bool { return len(rec.documentsReady()) == 1 })

	path, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	s := string(data)
	for _, bad := range []string{"<script", "onclick", "steal()"} {
		if strings.Contains(s, bad) {
			t.Errorf("snapshot kept %q: %s", bad, s)
		}
	}
	for _, want := range []string{`id="x"`, "third", `name="q"`} {
		if !strings.Contains(s, want) {
			t.Errorf("snapshot lost %q: %s", want, s)
		}
	}
}

func TestMirrorAsHostForwardsEvents(t *testing.T) {
	rec := &recorder{}
	m := New(Config{URL: "https://example.com/one", Session: "s1",
		Controller: []session.Option{session.WithLocationDelay(time.Hour)}}, staticLoader, transport.NewCallback(rec.send))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	eventually(t, "document-ready", func() bool { return len(rec.documentsReady()) == 1 })

	host, _ := protocol.New(protocol.NameHost, nil, protocol.Options{SessionID: "s1"})
	m.Receive(host)
	if m.Controller().Role() != session.RoleHost {
		t.Fatalf("role: got %v, want host", m.Controller().Role())
	}

	in := m.Document().MustQuery("#t")
	in.SetValue("from mirror")
	in.DispatchEvent(&dom.Event{Type: "input"})

	eventually(t, "forwarded event", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, msg := range rec.msgs {
			if msg.Name != protocol.NameEvent {
				continue
			}
			envs, err := envelope.DecodeList(msg.Data)
			if err != nil {
				continue
			}
			for _, e := range envs {
				if f, ok := e.Payload.(envelope.Form); ok && f.Value == "from mirror" {
					return true
				}
			}
		}
		return false
	})
}
