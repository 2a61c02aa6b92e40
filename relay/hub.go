// Package relay fans protocol messages out between the peers of a sync
// session over WebSocket, optionally recording them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/record"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ErrUnknownSession is returned for a session without peers.
type ErrUnknownSession struct {
	ID string
}

func (e *ErrUnknownSession) Error() string {
	return fmt.Sprintf("relay: unknown session %q", e.ID)
}

// ErrNoStore is returned by recording operations on a hub without a store.
var ErrNoStore = errors.New("relay: recording disabled")

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId,omitempty"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID        string     `json:"id"`
	Peers     []PeerInfo `json:"peers"`
	Recording string     `json:"recording,omitempty"`
	Messages  int64      `json:"messages"`
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithStore enables recording.
func WithStore(s *record.Store) HubOption { return func(h *Hub) { h.store = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HubOption { return func(h *Hub) { h.logger = l } }

// WithSendBuffer sets the per-peer outbound queue length. Default: 256.
func WithSendBuffer(n int) HubOption { return func(h *Hub) { h.sendBuffer = n } }

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub tracks sessions and their peers.
type Hub struct {
	logger     *slog.Logger
	store      *record.Store
	sendBuffer int
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*hubSession
	closed   bool
	wg       sync.WaitGroup
}

type hubSession struct {
	id        string
	peers     map[string]*peer
	recording string
	messages  int64
}

type peer struct {
	info PeerInfo
	conn *websocket.Conn
	send chan protocol.Message
	once sync.Once
	done chan struct{}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sendBuffer: 256,
		sessions:   make(map[string]*hubSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeWS upgrades the request and attaches the peer to the session named
// by the "session" query parameter. "document" sets the peer document id.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("relay: upgrade failed", "error", err)
		return
	}
	id, _ := uuid.NewV7()
	p := &peer{
		info: PeerInfo{
			ID:          id.String(),
			DocumentID:  r.URL.Query().Get("document"),
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: time.Now().UTC(),
		},
		conn: conn,
		send: make(chan protocol.Message, h.sendBuffer),
		done: make(chan struct{}),
	}
	if !h.attach(sessionID, p) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Info("relay: peer joined", "session", sessionID, "peer", p.info.ID, "document", p.info.DocumentID)

	h.wg.Add(2)
	go h.writePump(p)
	go h.readPump(sessionID, p)
}

func (h *Hub) attach(sessionID string, p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	s := h.sessions[sessionID]
	if s == nil {
		s = &hubSession{id: sessionID, peers: make(map[string]*peer)}
		h.sessions[sessionID] = s
	}
	s.peers[p.info.ID] = p
	return true
}

func (h *Hub) detach(sessionID string, p *peer) {
	h.mu.Lock()
	if s := h.sessions[sessionID]; s != nil {
		delete(s.peers, p.info.ID)
		if len(s.peers) == 0 && s.recording == "" {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
	p.close()
	h.logger.Info("relay: peer left", "session", sessionID, "peer", p.info.ID)
}

func (h *Hub) readPump(sessionID string, p *peer) {
	defer h.wg.Done()
	defer h.detach(sessionID, p)

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg protocol.Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				h.logger.Debug("relay: bad frame", "peer", p.info.ID, "error", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("relay: read failed", "peer", p.info.ID, "error", err)
			}
			return
		}
		if msg.NS != protocol.Namespace {
			continue
		}
		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}
		h.dispatch(context.Background(), sessionID, p.info.ID, msg)
	}
}

func (h *Hub) writePump(p *peer) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("relay: write failed", "peer", p.info.ID, "error", err)
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// dispatch delivers msg to every peer of the session but the sender and
// records it when the session is being recorded. It returns the number of
// peers reached.
func (h *Hub) dispatch(ctx context.Context, sessionID, from string, msg protocol.Message) int {
	h.mu.Lock()
	s := h.sessions[sessionID]
	if s == nil {
		h.mu.Unlock()
		return 0
	}
	s.messages++
	recording := s.recording
	targets := make([]*peer, 0, len(s.peers))
	for id, p := range s.peers {
		if id != from {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	if recording != "" && h.store != nil {
		if _, err := h.store.Append(ctx, recording, msg); err != nil {
			h.logger.Warn("relay: record failed", "session", sessionID, "recording", recording, "error", err)
		}
	}

	n := 0
	for _, p := range targets {
		select {
		case p.send <- msg:
			n++
		case <-p.done:
		default:
			h.logger.Warn("relay: peer too slow, dropping", "session", sessionID, "peer", p.info.ID)
			p.close()
		}
	}
	return n
}

// Publish injects msg into a session as if sent by an external peer.
func (h *Hub) Publish(ctx context.Context, sessionID string, msg protocol.Message) (int, error) {
	h.mu.RLock()
	_, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return 0, &ErrUnknownSession{ID: sessionID}
	}
	if msg.NS == "" {
		msg.NS = protocol.Namespace
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	return h.dispatch(ctx, sessionID, "", msg), nil
}

// Sessions lists the sessions ordered by id.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		info := SessionInfo{ID: s.id, Recording: s.recording, Messages: s.messages, Peers: []PeerInfo{}}
		for _, p := range s.peers {
			info.Peers = append(info.Peers, p.info)
		}
		sort.Slice(info.Peers, func(i, j int) bool { return info.Peers[i].ID < info.Peers[j].ID })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartRecording starts recording sessionID. The session does not need to
// have peers yet. Starting an already recording session returns the
// current recording.
func (h *Hub) StartRecording(ctx context.Context, sessionID string) (record.Recording, error) {
	if h.store == nil {
		return record.Recording{}, ErrNoStore
	}
	h.mu.Lock()
	if s := h.sessions[sessionID]; s != nil && s.recording != "" {
		id := s.recording
		h.mu.Unlock()
		return h.store.Get(ctx, id)
	}
	h.mu.Unlock()

	rec, err := h.store.Start(ctx, sessionID)
	if err != nil {
		return record.Recording{}, err
	}
	h.mu.Lock()
	s := h.sessions[sessionID]
	if s == nil {
		s = &hubSession{id: sessionID, peers: make(map[string]*peer)}
		h.sessions[sessionID] = s
	}
	s.recording = rec.ID
	h.mu.Unlock()
	return rec, nil
}

// StopRecording stops the recording of sessionID.
func (h *Hub) StopRecording(ctx context.Context, sessionID string) (record.Recording, error) {
	if h.store == nil {
		return record.Recording{}, ErrNoStore
	}
	h.mu.Lock()
	s := h.sessions[sessionID]
	if s == nil || s.recording == "" {
		h.mu.Unlock()
		return record.Recording{}, &ErrUnknownSession{ID: sessionID}
	}
	id := s.recording
	s.recording = ""
	if len(s.peers) == 0 {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()

	if err := h.store.Stop(ctx, id); err != nil {
		return record.Recording{}, err
	}
	return h.store.Get(ctx, id)
}

// Store returns the recording store, nil when recording is disabled.
func (h *Hub) Store() *record.Store { return h.store }

// Close disconnects every peer and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var peers []*peer
	for _, s := range h.sessions {
		for _, p := range s.peers {
			peers = append(peers, p)
		}
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
	h.wg.Wait()
}
