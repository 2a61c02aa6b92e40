package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/record"
	"github.com/hazyhaar/pagesync/transport"
)

type fixture struct {
	hub   *Hub
	srv   *Server
	http  *httptest.Server
	store *record.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := record.Open(":memory:")
	if err != nil {
		t.Fatalf("record.Open: %v", err)
	}
	hub := NewHub(WithStore(store))
	srv := NewServer(hub, "test")
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		store.Close()
	})
	return &fixture{hub: hub, srv: srv, http: ts, store: store}
}

func (f *fixture) wsURL(session, document string) string {
	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws?session=" + session
	if document != "" {
		u += "&document=" + document
	}
	return u
}

func (f *fixture) waitPeers(t *testing.T, session string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range f.hub.Sessions() {
			if s.ID == session && len(s.Peers) == n {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %d peers", session, n)
}

func dial(t *testing.T, url string) (*transport.WebSocket, chan protocol.Message) {
	t.Helper()
	got := make(chan protocol.Message, 16)
	ws, err := transport.DialWebSocket(context.Background(), url, func(m protocol.Message) { got <- m })
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws, got
}

func receive(t *testing.T, ch chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return protocol.Message{}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestWSRequiresSession(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestFanOutSkipsSender(t *testing.T) {
	f := newFixture(t)
	a, gotA := dial(t, f.wsURL("s1", "host"))
	_, gotB := dial(t, f.wsURL("s1", "guest"))
	_, gotOther := dial(t, f.wsURL("s2", ""))
	f.waitPeers(t, "s1", 2)
	f.waitPeers(t, "s2", 1)

	msg, _ := protocol.New(protocol.NameEvent, []any{}, protocol.Options{})
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m := receive(t, gotB)
	if m.Name != protocol.NameEvent || m.SessionID != "s1" {
		t.Errorf("guest got %+v", m)
	}

	select {
	case m := <-gotA:
		t.Errorf("sender received its own message: %+v", m)
	case m := <-gotOther:
		t.Errorf("other session received: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInjectAndRecord(t *testing.T) {
	f := newFixture(t)
	_, got := dial(t, f.wsURL("s1", ""))
	f.waitPeers(t, "s1", 1)

	resp, err := http.Post(f.http.URL+"/sessions/s1/recording", "application/json", nil)
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	var rec record.Recording
	json.NewDecoder(resp.Body).Decode(&rec)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || rec.ID == "" {
		t.Fatalf("start recording: status %d, recording %+v", resp.StatusCode, rec)
	}

	body := `{"name":"host"}`
	resp, err = http.Post(f.http.URL+"/sessions/s1/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	var sent struct {
		Delivered int `json:"delivered"`
	}
	json.NewDecoder(resp.Body).Decode(&sent)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || sent.Delivered != 1 {
		t.Errorf("inject: status %d, delivered %d", resp.StatusCode, sent.Delivered)
	}
	if m := receive(t, got); m.Name != protocol.NameHost || m.NS != protocol.Namespace {
		t.Errorf("peer got %+v", m)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.http.URL+"/sessions/s1/recording", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&rec)
	resp.Body.Close()
	if rec.Batches != 1 || rec.StoppedAt == nil {
		t.Errorf("stopped recording: got %+v", rec)
	}

	resp, err = http.Get(f.http.URL + "/recordings/" + rec.ID)
	if err != nil {
		t.Fatalf("get recording: %v", err)
	}
	var detail struct {
		Batches []record.Batch `json:"batches"`
	}
	json.NewDecoder(resp.Body).Decode(&detail)
	resp.Body.Close()
	if len(detail.Batches) != 1 || detail.Batches[0].Message.Name != protocol.NameHost {
		t.Errorf("batches: got %+v", detail.Batches)
	}
}

func TestInjectErrors(t *testing.T) {
	f := newFixture(t)

	resp, _ := http.Post(f.http.URL+"/sessions/nope/messages", "application/json", strings.NewReader(`{"name":"host"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: got %d, want 404", resp.StatusCode)
	}

	dial(t, f.wsURL("s1", ""))
	f.waitPeers(t, "s1", 1)
	resp, _ = http.Post(f.http.URL+"/sessions/s1/messages", "application/json", strings.NewReader(`{}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name: got %d, want 400", resp.StatusCode)
	}
	resp, _ = http.Post(f.http.URL+"/sessions/s1/messages", "application/json", strings.NewReader(`{`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad JSON: got %d, want 400", resp.StatusCode)
	}
}

func mcpSession(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.MCP().Run(ctx, serverT) }()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "relay-test", Version: "0.1.0"}, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res.Content[0].(*mcp.TextContent).Text, res.IsError
}

func TestMCPTools(t *testing.T) {
	f := newFixture(t)
	_, got := dial(t, f.wsURL("s1", "d1"))
	f.waitPeers(t, "s1", 1)
	cs := mcpSession(t, f.srv)

	text, isErr := callTool(t, cs, "pagesync_sessions", map[string]any{})
	if isErr {
		t.Fatalf("pagesync_sessions: %s", text)
	}
	var list struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].Peers[0].DocumentID != "d1" {
		t.Errorf("sessions: got %+v", list.Sessions)
	}

	text, isErr = callTool(t, cs, "pagesync_recording", map[string]any{"session": "s1", "action": "start"})
	if isErr {
		t.Fatalf("recording start: %s", text)
	}

	text, isErr = callTool(t, cs, "pagesync_send", map[string]any{
		"session": "s1", "name": "set-options", "data": map[string]any{"sameParent": true},
	})
	if isErr {
		t.Fatalf("pagesync_send: %s", text)
	}
	m := receive(t, got)
	if m.Name != protocol.NameSetOptions || string(m.Data) != `{"sameParent":true}` {
		t.Errorf("peer got %+v", m)
	}

	text, isErr = callTool(t, cs, "pagesync_recording", map[string]any{"session": "s1", "action": "list"})
	if isErr {
		t.Fatalf("recording list: %s", text)
	}
	var recs struct {
		Recordings []record.Recording `json:"recordings"`
	}
	json.Unmarshal([]byte(text), &recs)
	if len(recs.Recordings) != 1 || recs.Recordings[0].Batches != 1 {
		t.Errorf("recordings: got %+v", recs.Recordings)
	}

	if _, isErr := callTool(t, cs, "pagesync_recording", map[string]any{"action": "rewind"}); !isErr {
		t.Error("bad action: want tool error")
	}
	if _, isErr := callTool(t, cs, "pagesync_send", map[string]any{"session": "nope", "name": "host"}); !isErr {
		t.Error("unknown session: want tool error")
	}
}
