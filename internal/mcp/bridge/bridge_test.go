package bridge

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHandleHTTPMCPReturns503WithoutUplink(t *testing.T) {
	b := New(2*time.Second, nil)
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503 with no uplink, got %d", resp.StatusCode)
	}
}

func TestHealthReportsUplinkConnection(t *testing.T) {
	b := New(2*time.Second, nil)
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["doConnected"] != false {
		t.Errorf("expected doConnected=false before any uplink, got %+v", out)
	}
}

func TestHandleHTTPMCPTunnelsThroughUplink(t *testing.T) {
	b := New(2*time.Second, nil)
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + uplinkPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial uplink: %v", err)
	}
	defer conn.Close()

	// Fake "orchestrator" side: read the tunnelled request, answer it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var req HTTPRequestFrame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{"tools": []any{}}})
		conn.WriteJSON(HTTPResponseFrame{RequestID: req.RequestID, Status: 200, Body: body})
	}()

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	<-done

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["result"] == nil {
		t.Errorf("expected tunnelled result, got %+v", out)
	}
}
