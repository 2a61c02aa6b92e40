// Package protocol defines the messages exchanged between pagesync
// controllers living in different browsing contexts.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Namespace tags every pagesync message.
const Namespace = "page-sync"

// Message names.
const (
	NameHost               = "host"
	NameGuest              = "guest"
	NameEvent              = "event"
	NameDocumentReady      = "document-ready"
	NameCheckDocumentReady = "check-document-ready"
	NameSetOptions         = "set-options"
)

// Message is the wire envelope.
type Message struct {
	NS         string          `json:"ns"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	DocumentID string          `json:"documentId,omitempty"`
}

// New builds a message carrying data, scoped by opts.
func New(name string, data any, opts Options) (Message, error) {
	m := Message{NS: Namespace, Name: name, SessionID: opts.SessionID, DocumentID: opts.DocumentID}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: encode %s: %w", name, err)
		}
		m.Data = b
	}
	return m, nil
}

// Accepts reports whether a receiver configured with opts handles m: the
// namespace must match, and the session id must match when the receiver has
// one. The document id names the sending document and is not filtered on,
// so documents with different ids can share a session.
func (o Options) Accepts(m Message) bool {
	if m.NS != Namespace {
		return false
	}
	return o.SessionID == "" || m.SessionID == o.SessionID
}

// Options scope a participant of a sync session.
type Options struct {
	SessionID  string `json:"sessionId,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	SameParent bool   `json:"sameParent,omitempty"`
}

// Merge applies the keys present in a partial options object. Unknown keys
// are ignored.
func (o Options) Merge(partial json.RawMessage) (Options, error) {
	if len(partial) == 0 {
		return o, nil
	}
	var p struct {
		SessionID  *string `json:"sessionId"`
		DocumentID *string `json:"documentId"`
		SameParent *bool   `json:"sameParent"`
	}
	if err := json.Unmarshal(partial, &p); err != nil {
		return o, fmt.Errorf("protocol: merge options: %w", err)
	}
	if p.SessionID != nil {
		o.SessionID = *p.SessionID
	}
	if p.DocumentID != nil {
		o.DocumentID = *p.DocumentID
	}
	if p.SameParent != nil {
		o.SameParent = *p.SameParent
	}
	return o, nil
}
