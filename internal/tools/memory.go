package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/embeddings"
	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/search"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// RegisterMemoryTools wires the journal/topic/state-file tools of spec
// §4.7 into r. Writes embed their content via embedder before persisting
// (spec §4.2); on embedder.unavailable the entry is still stored, just
// unsearchable until re-embedded, per spec §4.2/§7.
func RegisterMemoryTools(r *Registry, st store.Store, searcher *search.Searcher, embedder *embeddings.Embedder, nowFn func() time.Time) {
	if nowFn == nil {
		nowFn = time.Now
	}

	r.Register(Tool{
		Name:        "journal_write",
		Description: "Append an entry to the journal under a topic label.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["topic", "content"],
			"properties": {
				"topic": {"type": "string", "minLength": 1},
				"content": {"type": "string", "minLength": 1}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Topic, Content string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "journal_write", err)
			}
			entry := &models.JournalEntry{ID: uuid.NewString(), Topic: in.Topic, Content: in.Content, Timestamp: nowFn().UnixMilli()}
			if vec, err := embedder.EmbedDocument(ctx, in.Content); err != nil {
				if !embeddings.IsUnavailable(err) {
					return Result{}, err
				}
			} else {
				entry.Embedding = vec
			}
			if err := st.WriteJournal(ctx, entry); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("journal entry %s recorded", entry.ID)), nil
		},
	})

	r.Register(Tool{
		Name:        "journal_search",
		Description: "Semantically search the journal for entries relevant to a query.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["query"],
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"k": {"type": "integer", "minimum": 1, "maximum": 50}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Query string
				K     int
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "journal_search", err)
			}
			results, err := searcher.SearchJournal(ctx, in.Query, in.K)
			if err != nil {
				return Result{}, err
			}
			return jsonResult(results)
		},
	})

	r.Register(Tool{
		Name:        "topic_write",
		Description: "Create or overwrite a named topic, preserving its creation time.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name", "content"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"content": {"type": "string", "minLength": 1}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Name, Content string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "topic_write", err)
			}
			now := nowFn().UnixMilli()
			topic := &models.Topic{Name: in.Name, Content: in.Content, CreatedAt: now, UpdatedAt: now}
			if vec, err := embedder.EmbedDocument(ctx, in.Content); err != nil {
				if !embeddings.IsUnavailable(err) {
					return Result{}, err
				}
			} else {
				topic.Embedding = vec
			}
			if err := st.UpsertTopic(ctx, topic); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("topic %q saved", in.Name)), nil
		},
	})

	r.Register(Tool{
		Name:        "topic_get",
		Description: "Fetch a topic by exact name.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name"],
			"properties": {"name": {"type": "string", "minLength": 1}}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Name string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "topic_get", err)
			}
			topic, err := st.GetTopic(ctx, in.Name)
			if err != nil {
				return Result{}, err
			}
			if topic == nil {
				return ErrorResult(fmt.Sprintf("no topic named %q", in.Name)), nil
			}
			return jsonResult(topic)
		},
	})

	r.Register(Tool{
		Name:        "topic_list",
		Description: "List all topic names.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			topics, err := st.ListTopics(ctx)
			if err != nil {
				return Result{}, err
			}
			names := make([]string, len(topics))
			for i, t := range topics {
				names[i] = t.Name
			}
			return jsonResult(names)
		},
	})

	r.Register(Tool{
		Name:        "topic_search",
		Description: "Semantically search topics for ones relevant to a query.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["query"],
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"k": {"type": "integer", "minimum": 1, "maximum": 50}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Query string
				K     int
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "topic_search", err)
			}
			results, err := searcher.SearchTopics(ctx, in.Query, in.K)
			if err != nil {
				return Result{}, err
			}
			return jsonResult(results)
		},
	})

	r.Register(Tool{
		Name:        "state_read",
		Description: "Read a state file by name.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name"],
			"properties": {"name": {"type": "string", "minLength": 1}}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Name string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "state_read", err)
			}
			f, err := st.ReadStateFile(ctx, in.Name)
			if err != nil {
				return Result{}, err
			}
			if f == nil {
				return TextResult(""), nil
			}
			return TextResult(f.Content), nil
		},
	})

	r.Register(Tool{
		Name:        "state_write",
		Description: "Overwrite a state file by name.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name", "content"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"content": {"type": "string"}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Name, Content string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "state_write", err)
			}
			if err := st.WriteStateFile(ctx, in.Name, in.Content); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("state file %q written", in.Name)), nil
		},
	})
}

func jsonResult(v interface{}) (Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{}, kinderr.New(kinderr.ToolFailed, "jsonResult", err)
	}
	return TextResult(string(b)), nil
}
