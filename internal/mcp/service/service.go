// Package service implements the JSON-RPC 2.0 core of the MCP tool server
// (spec §4.8): initialize/initialized, ping, tools/list, tools/call,
// request batching, and per-session lifetime via the Mcp-Session-Id
// header. It is transport-agnostic — HTTPHandler exposes it over HTTP, and
// internal/mcp/uplink serves that handler for requests tunnelled from the
// sandbox-side bridge.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/mcp/protocol"
	"github.com/haasonsaas/outie/internal/tools"
)

const serverName = "outie"

// Session tracks one initialized MCP client connection.
type Session struct {
	ID          string
	CreatedAt   time.Time
	Initialized bool
}

// Service dispatches JSON-RPC requests against a tool Registry.
type Service struct {
	registry *tools.Registry

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(registry *tools.Registry) *Service {
	return &Service{registry: registry, sessions: make(map[string]*Session)}
}

// NewSession allocates a session id for a fresh initialize handshake.
func (s *Service) NewSession() *Session {
	sess := &Session{ID: uuid.NewString(), CreatedAt: time.Now()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// EndSession drops a session (DELETE semantics, spec §4.8).
func (s *Service) EndSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Service) session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// HandleBatch dispatches a batch of requests (or a single request wrapped
// in a slice of one). Requests with no ID are notifications: they are
// executed but produce no response entry. A batch that is entirely
// notifications returns an empty, non-nil slice so callers can tell "ran,
// answer with 202" apart from "nothing to do".
func (s *Service) HandleBatch(ctx context.Context, sessionID string, reqs []protocol.Request) []protocol.Response {
	responses := make([]protocol.Response, 0, len(reqs))
	for _, req := range reqs {
		resp, isNotification := s.handleOne(ctx, sessionID, req)
		if !isNotification {
			responses = append(responses, resp)
		}
	}
	return responses
}

func (s *Service) handleOne(ctx context.Context, sessionID string, req protocol.Request) (protocol.Response, bool) {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return protocol.ErrorResponse(req.ID, protocol.CodeInvalidRequest, "invalid request"), req.IsNotification()
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		if sess, ok := s.session(sessionID); ok {
			sess.Initialized = true
		}
		return protocol.Response{}, true
	case "ping":
		resp, _ := protocol.NewResponse(req.ID, struct{}{})
		return resp, req.IsNotification()
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return protocol.ErrorResponse(req.ID, protocol.CodeMethodNotFound, "method not found: "+req.Method), req.IsNotification()
	}
}

func (s *Service) handleInitialize(req protocol.Request) (protocol.Response, bool) {
	result := protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      protocol.ServerInfo{Name: serverName, Version: "1"},
		Capabilities:    protocol.Capabilities{Tools: &protocol.ToolsCapability{}},
	}
	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternalError, err.Error()), false
	}
	return resp, false
}

func (s *Service) handleToolsList(req protocol.Request) (protocol.Response, bool) {
	descriptors := s.registry.List()
	out := make([]protocol.ToolDescriptor, len(descriptors))
	for i, d := range descriptors {
		out[i] = protocol.ToolDescriptor{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	resp, err := protocol.NewResponse(req.ID, protocol.ListToolsResult{Tools: out})
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternalError, err.Error()), false
	}
	return resp, false
}

func (s *Service) handleToolsCall(ctx context.Context, req protocol.Request) (protocol.Response, bool) {
	var params protocol.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInvalidParams, err.Error()), req.IsNotification()
	}

	result, found, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternalError, err.Error()), req.IsNotification()
	}
	if !found {
		return protocol.ErrorResponse(req.ID, protocol.CodeMethodNotFound, "unknown tool: "+params.Name), req.IsNotification()
	}

	content := make([]protocol.ContentBlock, len(result.Content))
	for i, c := range result.Content {
		content[i] = protocol.ContentBlock{Type: c.Type, Text: c.Text}
	}
	resp, err := protocol.NewResponse(req.ID, protocol.CallToolResult{Content: content, IsError: result.IsError})
	if err != nil {
		return protocol.ErrorResponse(req.ID, protocol.CodeInternalError, err.Error()), false
	}
	return resp, false
}
