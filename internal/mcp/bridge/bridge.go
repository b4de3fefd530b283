// Package bridge implements the sandbox-side half of the MCP transport
// (spec §4.8): an HTTP-MCP listener for the reasoning engine, and a
// WS-UPLINK listener the orchestrator dials into. The bridge itself holds
// no tool registry and runs no tool logic — per spec, "the orchestrator's
// MCP service processes R directly (local SQLite, local helpers)"; the
// bridge only tunnels each HTTP-MCP request/response pair across the one
// live uplink connection. Pending-request correlation (requestId ->
// channel awaiting a reply) is grounded on the teacher's
// internal/edge/manager.go PendingTool map, generalised from one entry per
// tool execution to one entry per tunnelled HTTP request.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const uplinkPath = "/uplink"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HTTPRequestFrame tunnels one HTTP-MCP request over the uplink.
type HTTPRequestFrame struct {
	RequestID string            `json:"requestId"`
	Method    string            `json:"method"`
	Header    map[string]string `json:"header,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
}

// HTTPResponseFrame tunnels the matching HTTP-MCP response back.
type HTTPResponseFrame struct {
	RequestID string            `json:"requestId"`
	Status    int               `json:"status"`
	Header    map[string]string `json:"header,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
}

const sessionHeader = "Mcp-Session-Id"

// Bridge serves MCP JSON-RPC over HTTP inside the sandbox, tunnelling
// every request across the single live WS-UPLINK connection to the
// orchestrator and returning whatever HTTP response comes back.
type Bridge struct {
	requestTimeout time.Duration
	log            *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan HTTPResponseFrame
}

func New(requestTimeout time.Duration, log *slog.Logger) *Bridge {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		requestTimeout: requestTimeout,
		log:            log.With("component", "mcp.bridge"),
		pending:        make(map[string]chan HTTPResponseFrame),
	}
}

// Handler returns the HTTP mux serving HTTP-MCP, the WS-UPLINK upgrade
// endpoint, and the health check (spec §6).
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", b.handleHTTPMCP)
	mux.HandleFunc(uplinkPath, b.handleUplink)
	mux.HandleFunc("/health", b.handleHealth)
	return mux
}

// HTTPMCPHandler serves only the HTTP-MCP surface (spec §4.8: a loopback
// port for the reasoning engine). Use this together with UplinkHandler
// when the two surfaces are bound to separate ports; use Handler when a
// single listener serving both is acceptable (e.g. tests).
func (b *Bridge) HTTPMCPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", b.handleHTTPMCP)
	mux.HandleFunc("/health", b.handleHealth)
	return mux
}

// UplinkHandler serves only the WS-UPLINK surface (spec §4.8: a separate
// port accepting exactly one WebSocket from the orchestrator).
func (b *Bridge) UplinkHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(uplinkPath, b.handleUplink)
	return mux
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	connected := b.conn != nil
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "doConnected": connected})
}

func (b *Bridge) handleHTTPMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	case http.MethodPost, http.MethodDelete:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	frame := HTTPRequestFrame{
		RequestID: uuid.NewString(),
		Method:    r.Method,
		Header:    map[string]string{sessionHeader: r.Header.Get(sessionHeader)},
		Body:      body,
	}

	resp, err := b.forward(r.Context(), frame)
	if err != nil {
		b.log.Warn("forward to uplink failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	for k, v := range resp.Header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// forward sends frame across the live uplink connection and waits for its
// matching response, bounded by the bridge's request timeout.
func (b *Bridge) forward(ctx context.Context, frame HTTPRequestFrame) (HTTPResponseFrame, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return HTTPResponseFrame{}, fmt.Errorf("no uplink connection")
	}
	ch := make(chan HTTPResponseFrame, 1)
	b.pending[frame.RequestID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, frame.RequestID)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	err := conn.WriteJSON(frame)
	b.writeMu.Unlock()
	if err != nil {
		return HTTPResponseFrame{}, err
	}

	timer := time.NewTimer(b.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return HTTPResponseFrame{}, ctx.Err()
	case <-timer.C:
		return timeoutResponse(frame.RequestID), nil
	}
}

func timeoutResponse(requestID string) HTTPResponseFrame {
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error":   map[string]any{"code": -32000, "message": "Request timeout"},
	})
	return HTTPResponseFrame{RequestID: requestID, Status: http.StatusOK, Body: body}
}

// handleUplink accepts the orchestrator's inbound WebSocket connection.
// Only one uplink connection is active at a time; a new connection
// replaces the old one and any pending requests against the old
// connection are rejected (spec §4.8: "reject all pending ... respond 503
// until a new uplink appears").
func (b *Bridge) handleUplink(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error("uplink upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.rejectAllPendingLocked()
	}
	b.conn = conn
	b.mu.Unlock()

	b.log.Info("uplink connected")
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
			b.rejectAllPendingLocked()
		}
		b.mu.Unlock()
		_ = conn.Close()
		b.log.Warn("uplink disconnected")
	}()

	for {
		var resp HTTPResponseFrame
		if err := conn.ReadJSON(&resp); err != nil {
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.RequestID]
		if ok {
			delete(b.pending, resp.RequestID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (b *Bridge) rejectAllPendingLocked() {
	for id, ch := range b.pending {
		ch <- HTTPResponseFrame{RequestID: id, Status: http.StatusServiceUnavailable}
		delete(b.pending, id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
