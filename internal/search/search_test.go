package search

import (
	"context"
	"testing"

	"github.com/haasonsaas/outie/internal/embeddings"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// fakeStore implements store.Store with only journal/topic reads backed by
// fixed data; every other method is unused by Searcher and panics if called.
type fakeStore struct {
	store.Store
	journal []*models.JournalEntry
	topics  []*models.Topic
}

func (f *fakeStore) ListJournalWithEmbeddings(_ context.Context, _ int) ([]*models.JournalEntry, error) {
	return f.journal, nil
}

func (f *fakeStore) ListTopicsWithEmbeddings(_ context.Context, _ int) ([]*models.Topic, error) {
	return f.topics, nil
}

// identityModel embeds a query string into a vector where each rune index
// marks a distinct axis, so queries and documents that share a "topic"
// word score higher than unrelated ones, without depending on any network
// embedding provider.
type identityModel struct{ dim int }

func (m *identityModel) Dimension() int { return m.dim }

func (m *identityModel) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, m.dim)
	for _, r := range text {
		v[int(r)%m.dim] += 1
	}
	return v, nil
}

func TestSearchJournalRanksByScoreThenRecency(t *testing.T) {
	embedder := embeddings.New(&identityModel{dim: 64})
	ctx := context.Background()

	mk := func(topic, content string, ts int64) *models.JournalEntry {
		v, _ := embedder.EmbedDocument(ctx, content)
		return &models.JournalEntry{ID: content, Topic: topic, Content: content, Timestamp: ts, Embedding: v, HasVector: true}
	}

	fs := &fakeStore{journal: []*models.JournalEntry{
		mk("go", "go channels and goroutines", 100),
		mk("go", "go channels and goroutines", 200), // identical content, newer
		mk("cooking", "pasta recipe with tomato", 300),
	}}

	s := New(fs, embedder)
	results, err := s.SearchJournal(ctx, "go channels and goroutines", 5)
	if err != nil {
		t.Fatalf("SearchJournal: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected at least 2 matches above threshold, got %d: %+v", len(results), results)
	}
	if results[0].Timestamp != 200 {
		t.Errorf("expected newest tie-break winner first (ts=200), got %+v", results[0])
	}
}

func TestSearchTopicsAppliesThreshold(t *testing.T) {
	embedder := embeddings.New(&identityModel{dim: 64})
	ctx := context.Background()

	unrelated, _ := embedder.EmbedDocument(ctx, "zzzzzzzzzzzzzzzzzzzz")
	fs := &fakeStore{topics: []*models.Topic{
		{ID: "t1", Name: "unrelated", Content: "unrelated", UpdatedAt: 1, Embedding: unrelated, HasVector: true},
	}}

	s := New(fs, embedder)
	results, err := s.SearchTopics(ctx, "completely different query text", 5)
	if err != nil {
		t.Fatalf("SearchTopics: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected low-similarity topic to be filtered by tau_topic, got %+v", results)
	}
}
