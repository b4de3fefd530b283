package uplink

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outie/internal/mcp/bridge"
	"github.com/haasonsaas/outie/internal/mcp/service"
	"github.com/haasonsaas/outie/internal/tools"
)

type wsDialer struct {
	baseURL string
}

func (d wsDialer) WSConnect(ctx context.Context, path string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(d.baseURL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func TestUplinkAnswersTunnelledToolsList(t *testing.T) {
	b := bridge.New(2*time.Second, nil)
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	r := tools.NewRegistry()
	r.Register(tools.Tool{
		Name:        "echo",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     func(ctx context.Context, args json.RawMessage) (tools.Result, error) { return tools.TextResult("ok"), nil },
	})
	svc := service.New(r)
	client := New(wsDialer{baseURL: srv.URL}, "/uplink", svc, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	time.Sleep(50 * time.Millisecond) // let the server register the uplink connection

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Result struct {
			Tools []struct{ Name string } `json:"tools"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Result.Tools) != 1 || out.Result.Tools[0].Name != "echo" {
		t.Errorf("expected echo tool listed, got %+v", out.Result)
	}
}
