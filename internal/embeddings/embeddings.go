// Package embeddings provides deterministic text->unit-vector embedding
// with the asymmetric document/query discipline spec §4.2 requires. The
// Model interface is grounded on the teacher's
// internal/memory/embeddings.Provider, extended with the retrieval-prefix
// split the teacher's interface did not have.
package embeddings

import (
	"context"
	"math"

	"github.com/haasonsaas/outie/internal/kinderr"
)

// queryPrefix is prepended before embedding a search query, never a
// document. Spec §4.2 requires this asymmetry; collapsing the two paths is
// an error.
const queryPrefix = "Represent this sentence for searching relevant passages: "

// Model is the underlying embedding call: raw text in, raw (unnormalised)
// vector out. Implementations talk to a concrete provider (OpenAI, Ollama,
// ...); Embedder below does not care which.
type Model interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Embedder exposes the two entry points spec §4.2 names. Both normalise
// the model's raw output so cosine similarity reduces to a dot product.
type Embedder struct {
	model Model
}

func New(model Model) *Embedder {
	return &Embedder{model: model}
}

func (e *Embedder) Dimension() int { return e.model.Dimension() }

// EmbedDocument embeds text for storage (journal entries, topics).
func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	v, err := e.model.Embed(ctx, text)
	if err != nil {
		return nil, kinderr.New(kinderr.EmbedderDown, "embeddings.EmbedDocument", err)
	}
	return normalize(v), nil
}

// EmbedQuery embeds text for search, with the retrieval-instruction prefix
// applied. MUST NOT collapse onto EmbedDocument (spec §4.2, §8 round-trip
// law: embedQuery(x) != embedDocument(x) for non-empty x).
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.model.Embed(ctx, queryPrefix+text)
	if err != nil {
		return nil, kinderr.New(kinderr.EmbedderDown, "embeddings.EmbedQuery", err)
	}
	return normalize(v), nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Norm returns the L2 norm of v, exported for testing the ‖e‖ = 1 ± ε
// invariant (spec §3 I3, §8).
func Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

// ErrUnavailable-style helper for callers deciding skip-vs-abort semantics
// per spec §4.2 ("embedder.unavailable ... the caller decides").
func IsUnavailable(err error) bool {
	return kinderr.Is(err, kinderr.EmbedderDown)
}
