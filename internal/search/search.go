// Package search implements top-k cosine search over journal entries and
// topics (spec §4.3), grounded on the scoring/sorting logic of the
// teacher's internal/memory/backend/sqlitevec.Backend.Search, generalised
// to run against the Store interface instead of owning its own table.
package search

import (
	"context"
	"sort"

	"github.com/haasonsaas/outie/internal/embeddings"
	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

const (
	// NCandidates is the default scan cap (spec §4.3 step 2).
	NCandidates = 500

	tauJournal float32 = 0.30
	tauTopic   float32 = 0.35
)

// Searcher composes an Embedder and a Store to answer semantic queries.
type Searcher struct {
	store    store.Store
	embedder *embeddings.Embedder
}

func New(s store.Store, e *embeddings.Embedder) *Searcher {
	return &Searcher{store: s, embedder: e}
}

// SearchJournal implements spec §4.3's searchJournal(query, k).
func (s *Searcher) SearchJournal(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	qv, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, kinderr.New(kinderr.EmbedderDown, "search.SearchJournal", err)
	}
	entries, err := s.store.ListJournalWithEmbeddings(ctx, NCandidates)
	if err != nil {
		return nil, err
	}

	type scored struct {
		models.SearchResult
		ts int64
	}
	var results []scored
	for _, e := range entries {
		if !e.HasVector {
			continue
		}
		score := dot(qv, e.Embedding)
		if score <= tauJournal {
			continue
		}
		results = append(results, scored{
			SearchResult: models.SearchResult{ID: e.ID, Topic: e.Topic, Content: e.Content, Timestamp: e.Timestamp, Score: score},
			ts:           e.Timestamp,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ts > results[j].ts // newest-first among ties
	})
	if k <= 0 {
		k = 10
	}
	if len(results) > k {
		results = results[:k]
	}
	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		out[i] = r.SearchResult
	}
	return out, nil
}

// SearchTopics implements spec §4.3's searchTopics(query, k).
func (s *Searcher) SearchTopics(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	qv, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, kinderr.New(kinderr.EmbedderDown, "search.SearchTopics", err)
	}
	topics, err := s.store.ListTopicsWithEmbeddings(ctx, NCandidates)
	if err != nil {
		return nil, err
	}

	type scored struct {
		models.SearchResult
		ts int64
	}
	var results []scored
	for _, t := range topics {
		if !t.HasVector {
			continue
		}
		score := dot(qv, t.Embedding)
		if score <= tauTopic {
			continue
		}
		results = append(results, scored{
			SearchResult: models.SearchResult{ID: t.ID, Topic: t.Name, Content: t.Content, Timestamp: t.UpdatedAt, Score: score},
			ts:           t.UpdatedAt,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ts > results[j].ts
	})
	if k <= 0 {
		k = 10
	}
	if len(results) > k {
		results = results[:k]
	}
	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		out[i] = r.SearchResult
	}
	return out, nil
}

// dot computes the dot product of two equal-length unit vectors, which
// equals their cosine similarity (spec §4.2, §9).
func dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
