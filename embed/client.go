package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// openaiClient speaks the OpenAI /v1/embeddings request format.
type openaiClient struct {
	endpoint  string
	model     string
	batchSize int
	client    *http.Client
	logger    *slog.Logger

	mu  sync.Mutex
	dim int // 0 until detected
}

func newOpenAIClient(cfg Config) *openaiClient {
	return &openaiClient{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		dim:       cfg.Dimension,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    cfg.Logger,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *openaiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *openaiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.post(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed: batch [%d:%d]: %w", start, end, err)
		}
		copy(result[start:end], vecs)
	}
	return result, nil
}

func (c *openaiClient) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model: c.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned from %s", url)
	}

	got := len(result.Data[0].Embedding)
	c.mu.Lock()
	switch {
	case c.dim == 0 && got > 0:
		c.dim = got
		c.logger.Debug("embedding dimension detected", "dimension", got, "model", result.Model)
	case c.dim != 0 && got != c.dim:
		want := c.dim
		c.mu.Unlock()
		return nil, fmt.Errorf("dimension mismatch from %s: got %d, want %d", url, got, want)
	}
	c.mu.Unlock()

	// Servers may return entries out of order; index is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}

	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input index %d", i)
		}
	}
	return vecs, nil
}

func (c *openaiClient) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

func (c *openaiClient) Model() string { return c.model }
