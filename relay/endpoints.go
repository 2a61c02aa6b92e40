package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesync/kit"
	"github.com/hazyhaar/pagesync/protocol"
)

var errBadAction = errors.New("relay: action must be start, stop or list")

func (s *Server) sessionsEndpoint(_ context.Context, _ any) (any, error) {
	return map[string]any{"sessions": s.hub.Sessions()}, nil
}

func (s *Server) sendEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*sendReq)
	if r.Name == "" {
		return nil, errMissingName
	}
	msg := protocol.Message{
		NS:         protocol.Namespace,
		Name:       r.Name,
		Data:       r.Data,
		SessionID:  r.Session,
		DocumentID: r.DocumentID,
	}
	n, err := s.hub.Publish(ctx, r.Session, msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"delivered": n}, nil
}

func (s *Server) recordingEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*recordingReq)
	switch r.Action {
	case "start":
		return s.hub.StartRecording(ctx, r.Session)
	case "stop":
		return s.hub.StopRecording(ctx, r.Session)
	case "list":
		store := s.hub.Store()
		if store == nil {
			return nil, ErrNoStore
		}
		recs, err := store.Recordings(ctx, r.Session)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recordings": recs}, nil
	}
	return nil, fmt.Errorf("%w: %q", errBadAction, r.Action)
}

// RegisterMCP registers the relay tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagesync_sessions",
		Description: "List the active sync sessions with their peers and recording state.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, s.listSessions, func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	})

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagesync_send",
		Description: "Inject a protocol message (host, guest, event, check-document-ready, set-options) into a session.",
		InputSchema: kit.InputSchema(map[string]any{
			"session":    map[string]any{"type": "string", "description": "Session id"},
			"name":       map[string]any{"type": "string", "description": "Message name"},
			"data":       map[string]any{"description": "Message payload"},
			"documentId": map[string]any{"type": "string", "description": "Target document id"},
		}, []string{"session", "name"}),
	}, s.send, withSession(kit.DecodeJSON[sendReq](), func(r any) string { return r.(*sendReq).Session }))

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagesync_recording",
		Description: "Start or stop recording a session, or list recordings.",
		InputSchema: kit.InputSchema(map[string]any{
			"session": map[string]any{"type": "string", "description": "Session id (optional for list)"},
			"action":  map[string]any{"type": "string", "enum": []string{"start", "stop", "list"}},
		}, []string{"action"}),
	}, s.recording, withSession(kit.DecodeJSON[recordingReq](), func(r any) string { return r.(*recordingReq).Session }))
}

func withSession(decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error), session func(any) string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := decode(req)
		if err != nil {
			return nil, err
		}
		sid := session(res.Request)
		res.EnrichCtx = func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, sid) }
		return res, nil
	}
}
