// Package rag implements retrieval: query normalization, embedding,
// vector search and passage formatting over the CFR and M21 corpora.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// normalizerPrompt steers the rewrite model toward formal regulatory
// phrasing suited to embedding search.
const normalizerPrompt = `# Identity
You are a helpful assistant skilled at transforming user queries into clear, formal statements.

# Instructions
Given the user's query, rewrite it to formulate a precise, professional statement optimized for semantic search across regulatory texts such as 38 CFR and the M21 Manual of VA Regulations. Expand contractions, correct any grammatical errors, and remove any extraneous or unrelated content. The final inquiry should be succinct, clear, and maintain the original intent while aligning with legal and regulatory terminology.`

// normalizerMaxTokens bounds the rewritten query length.
const normalizerMaxTokens = 750

// Completer is the slice of the chat client the retrieval path needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	Model() string
}

// Normalizer rewrites raw user queries into formal search queries with a
// deterministic model call.
type Normalizer struct {
	completer Completer
	logger    log.Logger
}

// NewNormalizer creates a normalizer over the given completion client.
func NewNormalizer(completer Completer, logger log.Logger) *Normalizer {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Normalizer{completer: completer, logger: logger}
}

// Model returns the model identifier used for normalization.
func (n *Normalizer) Model() string {
	return n.completer.Model()
}

// Normalize rewrites query and returns the cleaned text with the call's
// token usage. Temperature is pinned to zero so identical queries rewrite
// identically.
func (n *Normalizer) Normalize(ctx context.Context, query string) (string, llm.Usage, error) {
	temp := 0.0
	resp, err := n.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: normalizerPrompt},
			{Role: llm.RoleUser, Content: query},
		},
		MaxTokens:   normalizerMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("normalize query: %w", err)
	}

	cleaned := strings.TrimSpace(resp.Content)
	n.logger.Debug("query normalized", "original_len", len(query), "cleaned_len", len(cleaned))
	return cleaned, resp.Usage, nil
}
