// Package embedding talks to an OpenAI-compatible /embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/pkg/apperr"
	"hoa-nexus-rag/pkg/log"
)

var errEmptyBody = errors.New("empty response body")

// Client turns text into vectors.
type Client interface {
	// EmbedTexts embeds every text, in input order. Any failure fails the whole call.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query, served from cache when possible.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	cache   *lru.Cache[string, []float32]
}

// Option customises a client.
type Option func(*openAICompatibleClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *openAICompatibleClient) { o.client = c }
}

// WithRetry overrides the backoff policy.
func WithRetry(r RetryConfig) Option {
	return func(o *openAICompatibleClient) { o.retry = r }
}

// NewClient builds a rate limited, retrying client from config.
func NewClient(cfg config.EmbeddingConfig, opts ...Option) Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout()},
		limiter: rate.NewLimiter(limit, burst),
		retry:   DefaultRetryConfig(cfg.MaxRetries),
	}
	if cfg.QueryCacheSize > 0 {
		c.cache, _ = lru.New[string, []float32](cfg.QueryCacheSize)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	dims := 0
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := retryWithBackoff(ctx, c.retry, func() ([][]float32, error) {
			return c.embedBatch(ctx, batch)
		})
		if err != nil {
			log.Errorf("[EmbeddingClient] batch %d-%d failed: %v", start, end, err)
			return nil, apperr.NewEmbedding("embed texts", err)
		}
		for _, v := range vectors {
			if dims == 0 {
				dims = len(v)
			} else if len(v) != dims {
				return nil, apperr.NewEmbedding("embed texts", fmt.Errorf("inconsistent dimensions %d and %d", dims, len(v)))
			}
			out = append(out, v)
		}
	}
	log.Debugf("[EmbeddingClient] embedded %d texts, dims=%d", len(out), dims)
	return out, nil
}

func (c *openAICompatibleClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cfg.Model + "\x00" + text
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return copyVector(v), nil
		}
	}

	vectors, err := retryWithBackoff(ctx, c.retry, func() ([][]float32, error) {
		return c.embedBatch(ctx, []string{text})
	})
	if err != nil {
		return nil, apperr.NewEmbedding("embed query", err)
	}
	if c.cache != nil {
		c.cache.Add(key, copyVector(vectors[0]))
	}
	return vectors[0], nil
}

// embedBatch performs one provider call and validates the reply.
func (c *openAICompatibleClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBytes, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      batch,
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warnf("[EmbeddingClient] provider returned %s", resp.Status)
		return nil, &statusError{Code: resp.StatusCode, Body: string(body)}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyBody
		}
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	return c.orderVectors(parsed, len(batch))
}

// orderVectors validates the response shape and sorts it back into input order.
func (c *openAICompatibleClient) orderVectors(parsed embeddingResponse, want int) ([][]float32, error) {
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("malformed response: got %d embeddings for %d inputs", len(parsed.Data), want)
	}
	data := parsed.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, want)
	for i, d := range data {
		if d.Index != i {
			return nil, fmt.Errorf("malformed response: missing index %d", i)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("malformed response: empty embedding at index %d", i)
		}
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("malformed response: expected %d dimensions, got %d", c.cfg.Dimensions, len(d.Embedding))
		}
		out[i] = d.Embedding
	}
	return out, nil
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
