// Package openai implements embeddings.Model against OpenAI's embeddings
// API, adapted from the teacher's internal/memory/embeddings/openai
// provider.
package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// dimensions is keyed by model name; OpenAI does not return dimension as
// part of the embeddings response, so it must be known up front the way
// the Store's configured dimension must be known up front (spec §3).
var dimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Model implements embeddings.Model.
type Model struct {
	client *openai.Client
	model  string
	dim    int
}

// Config configures the OpenAI embedding model.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

func New(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	dim, ok := dimensions[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("openai: unknown embedding model %q, dimension not declared", cfg.Model)
	}
	return &Model{
		client: openai.NewClientWithConfig(conf),
		model:  cfg.Model,
		dim:    dim,
	}, nil
}

func (m *Model) Dimension() int { return m.dim }

func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}
