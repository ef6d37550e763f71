// Package pinecone implements a minimal client for the Pinecone vector
// database query API. Only the query endpoint is needed; index population
// happens out of band.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// Index names a queryable vector index.
type Index string

const (
	// IndexCFR holds embeddings of 38 CFR Part 3 and Part 4 sections.
	IndexCFR Index = "38-cfr-index"
	// IndexM21 holds embeddings of M21-1 and M21-5 manual articles.
	IndexM21 Index = "m21-index"
)

// ErrUnknownIndex indicates a query against an index with no configured host.
var ErrUnknownIndex = errors.New("no host configured for index")

// Match is one scored result from a vector query.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Meta returns the named metadata value as a string, or "" when absent or
// not string-typed.
func (m Match) Meta(key string) string {
	if s, ok := m.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// Client queries Pinecone indexes over their per-index REST hosts.
type Client struct {
	httpClient *http.Client
	apiKey     string
	hosts      map[Index]string
	logger     log.Logger
}

// Config carries the credential and per-index host URLs.
type Config struct {
	APIKey string
	Hosts  map[Index]string
}

// New creates a Pinecone query client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Pinecone API key required")
	}
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("at least one index host required")
	}
	hosts := make(map[Index]string, len(cfg.Hosts))
	for idx, host := range cfg.Hosts {
		hosts[idx] = strings.TrimRight(host, "/")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     cfg.APIKey,
		hosts:      hosts,
		logger:     logger,
	}, nil
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query returns the topK nearest matches to vector in the given index,
// with metadata included. Matches arrive ordered by descending score.
func (c *Client) Query(ctx context.Context, index Index, vector []float32, topK int) ([]Match, error) {
	host, ok := c.hosts[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	if topK <= 0 {
		topK = 3
	}

	body, err := json.Marshal(queryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query index %s: status %d: %s", index, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	c.logger.Debug("vector query complete", "index", string(index), "matches", len(out.Matches))
	return out.Matches, nil
}
