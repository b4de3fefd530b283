package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPromptResponseTextJoinsTextPartsOnly(t *testing.T) {
	resp := PromptResponse{Parts: []Part{
		{Type: PartText, Text: "hello"},
		{Type: "image", Text: "ignored"},
		{Type: PartText, Text: "world"},
	}}
	if got, want := resp.Text(), "hello\nworld"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestHTTPClientPromptRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session.prompt" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req PromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ID != "sess-1" {
			t.Errorf("expected session id sess-1, got %q", req.ID)
		}
		json.NewEncoder(w).Encode(PromptResponse{Parts: []Part{{Type: PartText, Text: "ack"}}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0)
	resp, err := c.Prompt(context.Background(), PromptRequest{ID: "sess-1", Body: PromptBody{Parts: []Part{{Type: PartText, Text: "hi"}}}})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if resp.Text() != "ack" {
		t.Errorf("expected ack, got %q", resp.Text())
	}
}

func TestHTTPClientGetSessionReturnsNilOnNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0)
	sess, err := c.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
}
