// Package trigger implements the webhook intake (spec §6 "Trigger intake"):
// HMAC-authenticated HTTP POST carrying a chat-platform update, a static
// user allow-list, an always-200 response, and the /clear slash command.
// Signature verification is grounded on the teacher's
// internal/channels/zalo.Adapter.validateSignature (hmac-sha256, hex,
// constant-time compare).
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const signatureHeader = "X-Outie-Signature"

// Update is the platform-agnostic inbound message envelope this intake
// understands; concrete chat transports are out of scope (spec.md §1), so
// callers translate their own webhook body into this shape before POSTing.
type Update struct {
	UserID  string `json:"user_id"`
	ChatID  string `json:"chat_id"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Handler is invoked for every authenticated, allow-listed Update and
// returns the coordinator's response text. The intake does not write that
// text to the webhook response; it only logs a returned error.
type Handler func(ctx context.Context, u Update) (reply string, err error)

// ClearHandler resets conversation state for a /clear slash command and
// returns the acknowledgement text. As with Handler, the intake does not
// send that text anywhere; delivering it is the handler's job.
type ClearHandler func(ctx context.Context, u Update) (reply string, err error)

// Config configures the intake.
type Config struct {
	Secret       string
	AllowedUsers []string // empty means allow-all, used for local/dev only
}

func (c Config) allows(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Intake is the HTTP entrypoint for the webhook.
type Intake struct {
	cfg    Config
	handle Handler
	clear  ClearHandler
	log    *slog.Logger
}

func New(cfg Config, handle Handler, clear ClearHandler, log *slog.Logger) *Intake {
	if log == nil {
		log = slog.Default()
	}
	return &Intake{cfg: cfg, handle: handle, clear: clear, log: log.With("component", "trigger")}
}

// ServeHTTP implements spec §6's intake contract: verify signature (401 on
// mismatch), enforce the allow-list, always answer 200, and dispatch
// /clear separately from ordinary messages.
func (in *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		in.log.Error("read webhook body failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !in.verifySignature(body, r.Header.Get(signatureHeader)) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		in.log.Warn("malformed webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !in.cfg.allows(update.UserID) {
		in.log.Warn("rejected update from non-allow-listed user", "user_id", update.UserID)
		w.WriteHeader(http.StatusOK)
		return
	}

	in.dispatch(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

func (in *Intake) verifySignature(body []byte, signature string) bool {
	if in.cfg.Secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(in.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (in *Intake) dispatch(ctx context.Context, u Update) {
	if strings.HasPrefix(strings.TrimSpace(u.Text), "/clear") {
		if in.clear == nil {
			return
		}
		if _, err := in.clear(ctx, u); err != nil {
			in.log.Error("clear handler failed", "error", err)
		}
		return
	}

	if in.handle == nil {
		return
	}
	if _, err := in.handle(ctx, u); err != nil {
		in.log.Error("trigger handler failed", "error", err)
	}
}
