package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VectorConfig configures the HTTP vector search client.
type VectorConfig struct {
	URL     string        `long:"url" env:"URL" default:"http://localhost:6333/search" description:"Vector search endpoint URL"`
	Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"Deadline of a similarity search"`
}

// HTTPVectorStore is the production VectorStore: a JSON-over-HTTP
// nearest-neighbor search service holding the embedded knowledge base.
type HTTPVectorStore struct {
	url    string
	client *http.Client
}

// NewHTTPVectorStore builds a search client from configuration.
func NewHTTPVectorStore(cfg VectorConfig) *HTTPVectorStore {
	return &HTTPVectorStore{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// SimilaritySearch returns the k nearest documents of |query|.
func (s *HTTPVectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	var body, err = json.Marshal(struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching vector store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var snippet, _ = io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("vector store returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Documents []Document `json:"documents"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return out.Documents, nil
}
