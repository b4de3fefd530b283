// Package outbound implements the chat sink (spec §6 "Outbound chat"): a
// thin HTTP client posting text back to the configured chat platform.
// Concrete chat-platform SDKs are out of scope (spec.md §1); this package
// only speaks the plain bot-API HTTP envelope, following the send/retry
// shape of the teacher's internal/channels/telegram.Adapter.Send without
// depending on go-telegram/bot or any other platform SDK.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config configures the sink. A missing BotToken makes Send a silent
// no-op (besides an error log), per spec §6.
type Config struct {
	BotToken    string
	OwnerChatID string
	APIBaseURL  string // defaults to https://api.telegram.org
}

func (c Config) withDefaults() Config {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.telegram.org"
	}
	return c
}

// Sink implements tools.ChatSink.
type Sink struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		cfg:  cfg.withDefaults(),
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log.With("component", "outbound"),
	}
}

type sendMessageParams struct {
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	ParseMode        string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers text to chatID (defaulting to the configured owner),
// optionally as a reply, optionally with a parse mode. A parse-mode
// failure is retried once with no parse mode (spec §6). A missing bot
// token is a silent no-op with an error log, never a returned error, so
// callers (e.g. the send_telegram tool) don't surface internal
// misconfiguration as a tool failure.
func (s *Sink) Send(ctx context.Context, chatID, text, replyToID, parseMode string) error {
	if s.cfg.BotToken == "" {
		s.log.Error("no bot token configured, dropping outbound message")
		return nil
	}
	if chatID == "" {
		chatID = s.cfg.OwnerChatID
	}

	err := s.sendOnce(ctx, chatID, text, replyToID, parseMode)
	if err != nil && parseMode != "" {
		s.log.Warn("send with parse_mode failed, retrying without it", "error", err, "parse_mode", parseMode)
		err = s.sendOnce(ctx, chatID, text, replyToID, "")
	}
	return err
}

func (s *Sink) sendOnce(ctx context.Context, chatID, text, replyToID, parseMode string) error {
	params := sendMessageParams{
		ChatID:           chatID,
		Text:             text,
		ReplyToMessageID: replyToID,
		ParseMode:        parseMode,
	}
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.APIBaseURL, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("send failed: %s", out.Description)
	}
	return nil
}
