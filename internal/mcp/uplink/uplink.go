// Package uplink is the orchestrator-side half of the inverted MCP bridge
// (spec §4.8). The sandbox is not routable from the orchestrator, so
// instead of the orchestrator dialing into the sandbox's tool server, the
// orchestrator dials the sandbox's WS-UPLINK endpoint (reachable through
// the Daytona toolbox proxy via internal/sandbox.Sandbox.WSConnect) and
// the sandbox-side bridge tunnels each HTTP-MCP request it receives
// across that connection. The uplink client answers every tunnelled
// request by driving the local MCP service.Service directly against
// net/http/httptest plumbing, which is exactly service.HTTPHandler's
// existing contract — no duplicate JSON-RPC logic lives here.
package uplink

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/mcp/bridge"
	"github.com/haasonsaas/outie/internal/mcp/service"
)

// Dialer opens the WebSocket connection into the sandbox's WS-UPLINK
// endpoint. *internal/sandbox.Sandbox satisfies this.
type Dialer interface {
	WSConnect(ctx context.Context, path string) (*websocket.Conn, error)
}

// Client holds the live connection to one sandbox's MCP bridge and
// answers every tunnelled HTTP-MCP request against svc.
type Client struct {
	dialer Dialer
	path   string
	svc    *service.Service
	log    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func New(dialer Dialer, path string, svc *service.Service, log *slog.Logger) *Client {
	if path == "" {
		path = "/uplink"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		dialer: dialer,
		path:   path,
		svc:    svc,
		log:    log.With("component", "mcp.uplink"),
	}
}

// Connect dials the sandbox's uplink endpoint and starts the tunnel loop.
// Call Connect again after a disconnect to reconnect; Close tears the
// connection down for good.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dialer.WSConnect(ctx, c.path)
	if err != nil {
		return kinderr.New(kinderr.SandboxUnavailable, "uplink.connect", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)
	c.log.Info("uplink connected")
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		c.log.Warn("uplink disconnected")
	}()

	for {
		var req bridge.HTTPRequestFrame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		go c.handle(req, conn)
	}
}

func (c *Client) handle(frame bridge.HTTPRequestFrame, conn *websocket.Conn) {
	httpReq := httptest.NewRequest(frame.Method, "/mcp", bytes.NewReader(frame.Body))
	for k, v := range frame.Header {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	rec := httptest.NewRecorder()
	c.svc.HTTPHandler().ServeHTTP(rec, httpReq)

	resp := bridge.HTTPResponseFrame{
		RequestID: frame.RequestID,
		Status:    rec.Code,
		Body:      rec.Body.Bytes(),
	}
	if sid := rec.Header().Get("Mcp-Session-Id"); sid != "" {
		resp.Header = map[string]string{"Mcp-Session-Id": sid}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(resp); err != nil {
		c.log.Warn("failed to write tunnelled response", "error", err)
	}
}

// Close permanently shuts the uplink down; Connect must be called again
// to reuse the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether the uplink currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// reconnectLoop keeps the uplink alive, redialing with backoff whenever
// the connection drops, until ctx is cancelled.
func (c *Client) reconnectLoop(ctx context.Context, backoff time.Duration) {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.Connected() {
			if err := c.Connect(ctx); err != nil {
				c.log.Warn("uplink reconnect failed", "error", err)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				continue
			}
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// Run runs the reconnect loop, blocking until ctx is cancelled, then closes
// the uplink for good.
func (c *Client) Run(ctx context.Context, backoff time.Duration) {
	c.reconnectLoop(ctx, backoff)
	_ = c.Close()
}
