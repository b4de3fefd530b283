package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestServeHTTPRejectsBadSignatureWith401(t *testing.T) {
	in := New(Config{Secret: "shh"}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"u1","text":"hi"}`))
	req.Header.Set(signatureHeader, "wrong")
	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServeHTTPAlwaysRespondsOKWhenAuthorized(t *testing.T) {
	var got Update
	handle := func(ctx context.Context, u Update) (string, error) {
		got = u
		return "ack", nil
	}
	in := New(Config{Secret: "shh"}, handle, nil, nil)

	body := []byte(`{"user_id":"u1","chat_id":"c1","text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set(signatureHeader, sign("shh", body))
	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Text != "hello" {
		t.Errorf("expected handler invoked with parsed update, got %+v", got)
	}
}

func TestServeHTTPRejectsNonAllowListedUser(t *testing.T) {
	called := false
	handle := func(ctx context.Context, u Update) (string, error) {
		called = true
		return "", nil
	}
	in := New(Config{AllowedUsers: []string{"u1"}}, handle, nil, nil)

	body := []byte(`{"user_id":"u2","text":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even when rejected, got %d", rec.Code)
	}
	if called {
		t.Error("handler should not run for non-allow-listed user")
	}
}

func TestServeHTTPRoutesClearSlashCommand(t *testing.T) {
	clearCalled := false
	clear := func(ctx context.Context, u Update) (string, error) {
		clearCalled = true
		return "cleared", nil
	}
	handleCalled := false
	handle := func(ctx context.Context, u Update) (string, error) {
		handleCalled = true
		return "", nil
	}
	in := New(Config{}, handle, clear, nil)

	body := []byte(`{"user_id":"u1","text":"/clear"}`)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, req)

	if !clearCalled || handleCalled {
		t.Errorf("expected only clear handler to run, clear=%v handle=%v", clearCalled, handleCalled)
	}
}
