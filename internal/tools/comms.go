package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// ChatSink is the narrow interface tools.send_telegram needs from
// internal/outbound, kept here instead of importing that package directly
// to avoid a dependency cycle (outbound will, in turn, be driven by
// coordinator which depends on tools).
type ChatSink interface {
	Send(ctx context.Context, chatID, text, replyToID, parseMode string) error
}

// RegisterCommsTools wires send_telegram, save_conversation_summary and
// get_recent_summaries (spec §4.7, §4.9) into r.
func RegisterCommsTools(r *Registry, st store.Store, sink ChatSink, nowFn func() time.Time) {
	if nowFn == nil {
		nowFn = time.Now
	}

	r.Register(Tool{
		Name:        "send_telegram",
		Description: "Send a message to the chat channel. chat_id defaults to the configured owner when omitted.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["text"],
			"properties": {
				"text": {"type": "string", "minLength": 1},
				"chat_id": {"type": "string"},
				"reply_to_id": {"type": "string"},
				"parse_mode": {"type": "string"}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Text      string `json:"text"`
				ChatID    string `json:"chat_id"`
				ReplyToID string `json:"reply_to_id"`
				ParseMode string `json:"parse_mode"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "send_telegram", err)
			}
			if sink == nil {
				return ErrorResult("no chat sink configured"), nil
			}
			if err := sink.Send(ctx, in.ChatID, in.Text, in.ReplyToID, in.ParseMode); err != nil {
				return ErrorResult(err.Error()), nil
			}
			return TextResult("sent"), nil
		},
	})

	r.Register(Tool{
		Name:        "save_conversation_summary",
		Description: "Summarize and absorb the conversation buffer so far. Call this when <compaction_notice> appears.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["content"],
			"properties": {
				"content": {"type": "string", "minLength": 1},
				"notes": {"type": "string"},
				"key_decisions": {"type": "array", "items": {"type": "string"}},
				"open_threads": {"type": "array", "items": {"type": "string"}},
				"learned_patterns": {"type": "array", "items": {"type": "string"}}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var raw struct {
				Content         string   `json:"content"`
				Notes           string   `json:"notes"`
				KeyDecisions    []string `json:"key_decisions"`
				OpenThreads     []string `json:"open_threads"`
				LearnedPatterns []string `json:"learned_patterns"`
			}
			if err := json.Unmarshal(args, &raw); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "save_conversation_summary", err)
			}

			// RecentMessages treats a non-positive limit as "use the
			// default window", so pass a cap well above any realistic
			// buffer size to fetch everything pending absorption.
			messages, err := st.RecentMessages(ctx, 1_000_000)
			if err != nil {
				return Result{}, err
			}
			// Absorb only the oldest floor(0.7*len) messages, keeping the
			// recent tail in the live buffer (spec §8 boundary behaviour).
			absorbed := messages[:int(0.7*float64(len(messages)))]
			var from, to int64
			if len(absorbed) > 0 {
				from = absorbed[0].Timestamp
				to = absorbed[len(absorbed)-1].Timestamp
			}
			now := nowFn().UnixMilli()
			summary := &models.Summary{
				ID:              uuid.NewString(),
				Timestamp:       now,
				Content:         raw.Content,
				Notes:           raw.Notes,
				KeyDecisions:    raw.KeyDecisions,
				OpenThreads:     raw.OpenThreads,
				LearnedPatterns: raw.LearnedPatterns,
				FromTimestamp:   from,
				ToTimestamp:     to,
				MessageCount:    len(absorbed),
			}
			if err := st.SaveSummary(ctx, summary); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("summary %s saved, absorbed %d messages", summary.ID, summary.MessageCount)), nil
		},
	})

	r.Register(Tool{
		Name:        "get_recent_summaries",
		Description: "Fetch the N most recent conversation summaries.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"count": {"type": "integer", "minimum": 1, "maximum": 50}}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Count int }
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return Result{}, kinderr.New(kinderr.InputInvalid, "get_recent_summaries", err)
				}
			}
			if in.Count <= 0 {
				in.Count = 5
			}
			summaries, err := st.RecentSummaries(ctx, in.Count)
			if err != nil {
				return Result{}, err
			}
			return jsonResult(summaries)
		},
	})
}
