package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/corpus"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/pinecone"
)

// Sentinel strings returned when a search yields no usable matches.
const (
	NoCFRResults = "No sections found (CFR)."
	NoM21Results = "No articles found (M21)."
)

// defaultTopK is the number of vector matches retrieved per search.
const defaultTopK = 3

// Embedder converts text to a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// VectorIndex queries a vector database index.
type VectorIndex interface {
	Query(ctx context.Context, index pinecone.Index, vector []float32, topK int) ([]pinecone.Match, error)
}

// PassageResolver looks up passage text by citation.
type PassageResolver interface {
	Resolve(ctx context.Context, c corpus.Corpus, key corpus.Key) (string, bool)
}

// Meter gates and settles the provider calls retrieval makes.
type Meter interface {
	Gate(ctx context.Context, userID int64) error
	Settle(ctx context.Context, userID int64, model string, usage llm.Usage, latencyMS int64, logID *int64) error
	SettleEmbedding(ctx context.Context, userID int64, model, input string, latencyMS int64) error
}

// Searcher runs the full retrieval pipeline: normalize the query, embed
// it, query the vector index and format the resolved passages into a
// reference block.
type Searcher struct {
	normalizer *Normalizer
	embedder   Embedder
	index      VectorIndex
	passages   PassageResolver
	meter      Meter
	topK       int
	logger     log.Logger
}

// NewSearcher creates a searcher. topK <= 0 selects the default.
func NewSearcher(normalizer *Normalizer, embedder Embedder, index VectorIndex, passages PassageResolver, meter Meter, topK int, logger log.Logger) *Searcher {
	if topK <= 0 {
		topK = defaultTopK
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Searcher{
		normalizer: normalizer,
		embedder:   embedder,
		index:      index,
		passages:   passages,
		meter:      meter,
		topK:       topK,
		logger:     logger,
	}
}

// corpusShape carries the per-corpus labels and metadata keys.
type corpusShape struct {
	corpus       corpus.Corpus
	index        pinecone.Index
	label        string
	numberKey    string
	partitionKey string
	empty        string
}

var (
	cfrShape = corpusShape{
		corpus:       corpus.CorpusCFR,
		index:        pinecone.IndexCFR,
		label:        "Section",
		numberKey:    "section_number",
		partitionKey: "part_number",
		empty:        NoCFRResults,
	}
	m21Shape = corpusShape{
		corpus:       corpus.CorpusM21,
		index:        pinecone.IndexM21,
		label:        "Article",
		numberKey:    "article_number",
		partitionKey: "manual",
		empty:        NoM21Results,
	}
)

// SearchCFR retrieves 38 CFR sections relevant to query and formats them
// as a reference block. Matches whose passage text cannot be resolved are
// listed with "N/A" rather than dropped.
func (s *Searcher) SearchCFR(ctx context.Context, userID int64, query string) (string, error) {
	return s.search(ctx, userID, query, cfrShape)
}

// SearchM21 retrieves M21 manual articles relevant to query.
func (s *Searcher) SearchM21(ctx context.Context, userID int64, query string) (string, error) {
	return s.search(ctx, userID, query, m21Shape)
}

func (s *Searcher) search(ctx context.Context, userID int64, query string, shape corpusShape) (string, error) {
	if err := s.meter.Gate(ctx, userID); err != nil {
		return "", err
	}

	start := time.Now()
	cleaned, usage, err := s.normalizer.Normalize(ctx, query)
	if err != nil {
		return "", err
	}
	if settleErr := s.meter.Settle(ctx, userID, s.normalizer.Model(), usage, time.Since(start).Milliseconds(), nil); settleErr != nil {
		s.logger.Error("failed to settle normalizer call", "error", settleErr)
	}

	start = time.Now()
	vector, err := s.embedder.Embed(ctx, cleaned)
	if err != nil {
		return "", err
	}
	if settleErr := s.meter.SettleEmbedding(ctx, userID, s.embedder.Model(), cleaned, time.Since(start).Milliseconds()); settleErr != nil {
		s.logger.Error("failed to settle embedding call", "error", settleErr)
	}

	matches, err := s.index.Query(ctx, shape.index, vector, s.topK)
	if err != nil {
		return "", fmt.Errorf("vector search: %w", err)
	}

	var b strings.Builder
	found := 0
	for _, m := range matches {
		number := m.Meta(shape.numberKey)
		partition := m.Meta(shape.partitionKey)
		if number == "" || partition == "" {
			continue
		}
		found++

		text, ok := s.passages.Resolve(ctx, shape.corpus, corpus.Key{Number: number, Partition: partition})
		if !ok {
			text = "N/A"
		}
		fmt.Fprintf(&b, "\n---\n%s %s:\n%s\n", shape.label, number, text)
	}

	if found == 0 {
		return shape.empty, nil
	}

	s.logger.Debug("retrieval complete",
		"corpus", string(shape.corpus),
		"matches", len(matches),
		"formatted", found)
	return strings.TrimSpace(b.String()), nil
}
