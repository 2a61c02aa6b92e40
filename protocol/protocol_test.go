package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewWire(t *testing.T) {
	m, err := New(NameSetOptions, map[string]string{"sessionId": "s1"}, Options{SessionID: "s1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := json.Marshal(m)
	want := `{"ns":"page-sync","name":"set-options","data":{"sessionId":"s1"},"sessionId":"s1"}`
	if string(b) != want {
		t.Errorf("wire:\n got %s\nwant %s", b, want)
	}

	bare, _ := New(NameHost, nil, Options{})
	b, _ = json.Marshal(bare)
	if string(b) != `{"ns":"page-sync","name":"host"}` {
		t.Errorf("bare: got %s", b)
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		msg  Message
		want bool
	}{
		{"foreign ns", Options{}, Message{NS: "other", Name: NameHost}, false},
		{"no session configured", Options{}, Message{NS: Namespace, SessionID: "x"}, true},
		{"session match", Options{SessionID: "a"}, Message{NS: Namespace, SessionID: "a"}, true},
		{"session mismatch", Options{SessionID: "a"}, Message{NS: Namespace, SessionID: "b"}, false},
		{"session missing", Options{SessionID: "a"}, Message{NS: Namespace}, false},
		{"document differs", Options{SessionID: "a", DocumentID: "d1"}, Message{NS: Namespace, SessionID: "a", DocumentID: "d2"}, true},
		{"document unset on message", Options{DocumentID: "d1"}, Message{NS: Namespace}, true},
	}
	for _, tt := range tests {
		if got := tt.opts.Accepts(tt.msg); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMerge(t *testing.T) {
	o := Options{SessionID: "a", SameParent: true}
	got, err := o.Merge(json.RawMessage(`{"documentId":"d","sameParent":false,"extra":1}`))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := Options{SessionID: "a", DocumentID: "d"}
	if got != want {
		t.Errorf("Merge: got %+v, want %+v", got, want)
	}
	if _, err := o.Merge(json.RawMessage(`[1]`)); err == nil {
		t.Error("Merge: want error for non-object")
	}
}
