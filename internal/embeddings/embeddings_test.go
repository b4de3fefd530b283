package embeddings

import (
	"context"
	"math"
	"testing"
)

// fakeModel returns a deterministic, unnormalised vector derived from the
// input text's byte values, long enough to exercise normalization without
// needing network access.
type fakeModel struct{ dim int }

func (f *fakeModel) Dimension() int { return f.dim }

func (f *fakeModel) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i := range v {
		if i < len(text) {
			v[i] = float32(text[i]) + 1
		} else {
			v[i] = 1
		}
	}
	return v, nil
}

func TestEmbedDocumentProducesUnitVector(t *testing.T) {
	e := New(&fakeModel{dim: 8})
	v, err := e.EmbedDocument(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedDocument: %v", err)
	}
	if got := Norm(v); math.Abs(got-1) > 1e-6 {
		t.Errorf("‖embedDocument(x)‖ = %v, want 1", got)
	}
}

func TestEmbedQueryDiffersFromEmbedDocument(t *testing.T) {
	e := New(&fakeModel{dim: 16})
	ctx := context.Background()

	doc, err := e.EmbedDocument(ctx, "find the bug")
	if err != nil {
		t.Fatalf("EmbedDocument: %v", err)
	}
	query, err := e.EmbedQuery(ctx, "find the bug")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}

	equal := true
	for i := range doc {
		if doc[i] != query[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Error("embedQuery(x) == embedDocument(x); asymmetric prefix discipline violated")
	}
}

func TestEmbedQueryEmptyStillDiffersWhenPrefixNonEmpty(t *testing.T) {
	// Degenerate case noted by spec §8: the law is stated "for non-empty x".
	e := New(&fakeModel{dim: 4})
	ctx := context.Background()
	doc, err := e.EmbedDocument(ctx, "")
	if err != nil {
		t.Fatalf("EmbedDocument(empty): %v", err)
	}
	query, err := e.EmbedQuery(ctx, "")
	if err != nil {
		t.Fatalf("EmbedQuery(empty): %v", err)
	}

	equal := true
	for i := range doc {
		if doc[i] != query[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Error("embedQuery(\"\") == embedDocument(\"\"); the query prefix was not applied")
	}
}
