package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSilentNoOpWithoutToken(t *testing.T) {
	s := New(Config{}, nil)
	if err := s.Send(context.Background(), "123", "hi", "", ""); err != nil {
		t.Fatalf("expected nil error for missing token, got %v", err)
	}
}

func TestSendDefaultsMissingChatIDToOwner(t *testing.T) {
	var gotChatID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p sendMessageParams
		json.NewDecoder(r.Body).Decode(&p)
		gotChatID = p.ChatID
		json.NewEncoder(w).Encode(apiResponse{OK: true})
	}))
	defer srv.Close()

	s := New(Config{BotToken: "tok", OwnerChatID: "owner-1", APIBaseURL: srv.URL}, nil)
	if err := s.Send(context.Background(), "", "hi", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotChatID != "owner-1" {
		t.Errorf("expected chat id to default to owner-1, got %q", gotChatID)
	}
}

func TestSendRetriesWithoutParseModeOnFailure(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p sendMessageParams
		json.NewDecoder(r.Body).Decode(&p)
		calls = append(calls, p.ParseMode)
		if p.ParseMode != "" {
			json.NewEncoder(w).Encode(apiResponse{OK: false, Description: "can't parse entities"})
			return
		}
		json.NewEncoder(w).Encode(apiResponse{OK: true})
	}))
	defer srv.Close()

	s := New(Config{BotToken: "tok", OwnerChatID: "owner-1", APIBaseURL: srv.URL}, nil)
	if err := s.Send(context.Background(), "chat", "hi", "", "MarkdownV2"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(calls) != 2 || calls[0] != "MarkdownV2" || calls[1] != "" {
		t.Errorf("expected retry without parse mode, got calls %+v", calls)
	}
}
