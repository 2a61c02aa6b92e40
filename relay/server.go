package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesync/kit"
	"github.com/hazyhaar/pagesync/record"
)

// maxMessageBytes bounds an injected message body.
const maxMessageBytes = 1 << 20

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInjectLimit caps injected messages per client per window. n <= 0
// disables the limit.
func WithInjectLimit(n int, window time.Duration) ServerOption {
	return func(s *Server) {
		if n > 0 && window > 0 {
			s.limiter = newRateLimiter(n, window)
		}
	}
}

// Server exposes a Hub over HTTP.
type Server struct {
	hub    *Hub
	logger *slog.Logger
	router chi.Router
	mcp    *mcp.Server

	limiter *rateLimiter

	listSessions kit.Endpoint
	send         kit.Endpoint
	recording    kit.Endpoint
}

// NewServer builds the HTTP surface of hub: health, session listing,
// WebSocket attach, message injection, recordings and the MCP endpoint.
func NewServer(hub *Hub, version string, opts ...ServerOption) *Server {
	s := &Server{hub: hub, logger: hub.logger}
	for _, o := range opts {
		o(s)
	}
	s.listSessions = kit.Logging(s.logger, "sessions")(s.sessionsEndpoint)
	s.send = kit.Logging(s.logger, "send")(s.sendEndpoint)
	s.recording = kit.Logging(s.logger, "recording")(s.recordingEndpoint)

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "pagesync", Version: version}, nil)
	s.RegisterMCP(s.mcp)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws", hub.ServeWS)
	r.Group(func(r chi.Router) {
		r.Use(securityHeaders)
		r.Get("/sessions", s.handleSessions)
		r.With(s.limit).Post("/sessions/{id}/messages", s.handleSend)
		r.Post("/sessions/{id}/recording", s.handleRecording("start"))
		r.Delete("/sessions/{id}/recording", s.handleRecording("stop"))
		r.Get("/recordings", s.handleRecordings)
		r.Get("/recordings/{id}", s.handleRecordingBatches)
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.middleware(next)
}

// MCP returns the MCP server backing /mcp.
func (s *Server) MCP() *mcp.Server { return s.mcp }

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.listSessions(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	var req sendReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Session = chi.URLParam(r, "id")
	ctx := kit.WithRemoteAddr(kit.WithSessionID(r.Context(), req.Session), r.RemoteAddr)
	resp, err := s.send(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleRecording(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := recordingReq{Session: chi.URLParam(r, "id"), Action: action}
		resp, err := s.recording(kit.WithSessionID(r.Context(), req.Session), &req)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if action == "start" {
			status = http.StatusCreated
		}
		writeJSON(w, status, resp)
	}
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	req := recordingReq{Session: r.URL.Query().Get("session"), Action: "list"}
	resp, err := s.recording(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordingBatches(w http.ResponseWriter, r *http.Request) {
	store := s.hub.Store()
	if store == nil {
		writeError(w, ErrNoStore)
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	batches, err := store.Batches(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": rec, "batches": batches})
}

type sendReq struct {
	Session    string          `json:"session"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
	DocumentID string          `json:"documentId,omitempty"`
}

type recordingReq struct {
	Session string `json:"session"`
	Action  string `json:"action"`
}

var errMissingName = errors.New("relay: missing message name")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var unknown *ErrUnknownSession
	var notFound *record.ErrRecordingNotFound
	switch {
	case errors.As(err, &unknown), errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.Is(err, errMissingName), errors.Is(err, errBadAction):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNoStore):
		status = http.StatusNotImplemented
	case errors.Is(err, record.ErrRecordingStopped):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
