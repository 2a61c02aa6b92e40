package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/pagesync/protocol"
)

const (
	wsHandshakeTimeout = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsCloseGrace       = time.Second
)

// WebSocket is a client connection to a relay. Outbound messages are
// written as JSON text frames; inbound frames are decoded and handed to the
// receiver from a single read goroutine.
type WebSocket struct {
	conn    *websocket.Conn
	recv    Receiver
	logger  *slog.Logger
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*wsConfig)

type wsConfig struct {
	header http.Header
	logger *slog.Logger
}

// WithHeader adds handshake headers.
func WithHeader(h http.Header) WebSocketOption {
	return func(c *wsConfig) { c.header = h }
}

// WithWebSocketLogger sets a custom logger.
func WithWebSocketLogger(l *slog.Logger) WebSocketOption {
	return func(c *wsConfig) { c.logger = l }
}

// DialWebSocket connects to url and starts the read loop. recv may be nil
// for a send-only client.
func DialWebSocket(ctx context.Context, url string, recv Receiver, opts ...WebSocketOption) (*WebSocket, error) {
	var cfg wsConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	d := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := d.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}
	ws := &WebSocket{
		conn:   conn,
		recv:   recv,
		logger: cfg.logger,
		done:   make(chan struct{}),
	}
	go ws.readLoop()
	return ws, nil
}

func (ws *WebSocket) readLoop() {
	defer close(ws.done)
	for {
		var msg protocol.Message
		if err := ws.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				ws.logger.Debug("websocket: read loop ended", "error", err)
			}
			ws.err = err
			return
		}
		if ws.recv != nil {
			ws.recv(msg)
		}
	}
}

// Send writes msg as one JSON frame.
func (ws *WebSocket) Send(ctx context.Context, msg protocol.Message) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("websocket: send: %w", err)
	}
	if err := ws.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("websocket: send: %w", err)
	}
	return nil
}

// Done is closed when the read loop stops.
func (ws *WebSocket) Done() <-chan struct{} { return ws.done }

// Err returns the error that stopped the read loop. Valid after Done.
func (ws *WebSocket) Err() error {
	<-ws.done
	return ws.err
}

// Close sends a close frame, closes the connection and waits for the read
// loop.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseGrace))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
		<-ws.done
	})
	return err
}
