package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// EmbeddingModel identifies a supported embedding model.
type EmbeddingModel string

const (
	EmbeddingSmall EmbeddingModel = "text-embedding-3-small"
	EmbeddingLarge EmbeddingModel = "text-embedding-3-large"
)

// Dimension returns the vector width the model produces, or 0 when unknown.
func (m EmbeddingModel) Dimension() int {
	switch m {
	case EmbeddingSmall:
		return 1536
	case EmbeddingLarge:
		return 3072
	default:
		return 0
	}
}

// ErrNoEmbedding indicates the provider returned no embedding data.
var ErrNoEmbedding = errors.New("provider returned no embedding data")

// embeddingAPI is the slice of the provider client the embedder needs.
type embeddingAPI interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder converts text into a dense vector using one embedding model.
type Embedder struct {
	api       embeddingAPI
	model     EmbeddingModel
	dimension int
	logger    log.Logger
}

// NewEmbedder creates an embedder bound to the given embedding model.
func NewEmbedder(apiKey string, model EmbeddingModel, logger log.Logger) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key required")
	}
	if model.Dimension() == 0 {
		return nil, fmt.Errorf("unsupported embedding model %q", model)
	}
	client, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(string(model)),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Embedder{
		api:       client,
		model:     model,
		dimension: model.Dimension(),
		logger:    logger,
	}, nil
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string {
	return string(e.model)
}

// Dimension returns the width of vectors this embedder produces.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed converts one text into its embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.api.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrNoEmbedding
	}
	if len(vectors[0]) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vectors[0]), e.dimension)
	}
	return vectors[0], nil
}
