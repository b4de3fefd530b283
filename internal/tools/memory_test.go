package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/embeddings"
	"github.com/haasonsaas/outie/internal/search"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// fakeMemoryStore implements store.Store with only the journal/topic methods
// memory.go and Searcher touch; every other method is unused here and
// panics if called.
type fakeMemoryStore struct {
	store.Store
	journal []*models.JournalEntry
	topics  []*models.Topic
}

func (f *fakeMemoryStore) WriteJournal(_ context.Context, entry *models.JournalEntry) error {
	f.journal = append(f.journal, entry)
	return nil
}

func (f *fakeMemoryStore) ListJournalWithEmbeddings(_ context.Context, _ int) ([]*models.JournalEntry, error) {
	for _, e := range f.journal {
		e.HasVector = len(e.Embedding) > 0
	}
	return f.journal, nil
}

func (f *fakeMemoryStore) UpsertTopic(_ context.Context, topic *models.Topic) error {
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeMemoryStore) ListTopicsWithEmbeddings(_ context.Context, _ int) ([]*models.Topic, error) {
	for _, t := range f.topics {
		t.HasVector = len(t.Embedding) > 0
	}
	return f.topics, nil
}

// identityModel embeds text into a vector where each rune marks a distinct
// axis, standing in for a network-backed embedding model in tests.
type identityModel struct{ dim int }

func (m *identityModel) Dimension() int { return m.dim }

func (m *identityModel) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, m.dim)
	for _, r := range text {
		v[int(r)%m.dim] += 1
	}
	return v, nil
}

func TestJournalWriteThenSearchRoundTrips(t *testing.T) {
	ctx := context.Background()
	fs := &fakeMemoryStore{}
	embedder := embeddings.New(&identityModel{dim: 64})
	searcher := search.New(fs, embedder)

	r := NewRegistry()
	RegisterMemoryTools(r, fs, searcher, embedder, func() time.Time { return time.Unix(0, 0) })

	writeArgs, _ := json.Marshal(map[string]string{
		"topic":   "go",
		"content": "go channels and goroutines",
	})
	if _, ok, err := r.Call(ctx, "journal_write", writeArgs); err != nil || !ok {
		t.Fatalf("journal_write: ok=%v err=%v", ok, err)
	}

	if len(fs.journal) != 1 || len(fs.journal[0].Embedding) == 0 {
		t.Fatalf("expected journal_write to persist an embedded entry, got %+v", fs.journal)
	}

	searchArgs, _ := json.Marshal(map[string]string{"query": "go channels and goroutines"})
	result, ok, err := r.Call(ctx, "journal_search", searchArgs)
	if err != nil || !ok {
		t.Fatalf("journal_search: ok=%v err=%v", ok, err)
	}
	if result.IsError {
		t.Fatalf("journal_search returned an error result: %+v", result)
	}

	var results []models.SearchResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &results); err != nil {
		t.Fatalf("decode journal_search result: %v", err)
	}
	if len(results) != 1 || results[0].Content != "go channels and goroutines" {
		t.Errorf("expected the written entry back from journal_search, got %+v", results)
	}
}

func TestTopicWriteThenSearchRoundTrips(t *testing.T) {
	ctx := context.Background()
	fs := &fakeMemoryStore{}
	embedder := embeddings.New(&identityModel{dim: 64})
	searcher := search.New(fs, embedder)

	r := NewRegistry()
	RegisterMemoryTools(r, fs, searcher, embedder, func() time.Time { return time.Unix(0, 0) })

	writeArgs, _ := json.Marshal(map[string]string{
		"name":    "onboarding",
		"content": "steps for onboarding a new teammate",
	})
	if _, ok, err := r.Call(ctx, "topic_write", writeArgs); err != nil || !ok {
		t.Fatalf("topic_write: ok=%v err=%v", ok, err)
	}

	if len(fs.topics) != 1 || len(fs.topics[0].Embedding) == 0 {
		t.Fatalf("expected topic_write to persist an embedded topic, got %+v", fs.topics)
	}

	searchArgs, _ := json.Marshal(map[string]string{"query": "steps for onboarding a new teammate"})
	result, ok, err := r.Call(ctx, "topic_search", searchArgs)
	if err != nil || !ok {
		t.Fatalf("topic_search: ok=%v err=%v", ok, err)
	}
	if result.IsError {
		t.Fatalf("topic_search returned an error result: %+v", result)
	}

	var results []models.SearchResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &results); err != nil {
		t.Fatalf("decode topic_search result: %v", err)
	}
	if len(results) != 1 || results[0].Topic != "onboarding" {
		t.Errorf("expected the written topic back from topic_search, got %+v", results)
	}
}
