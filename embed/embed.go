// Package embed turns chunk text into vectors.
//
// An Embedder is an HTTP client for any OpenAI-compatible /v1/embeddings
// server (vLLM, Ollama, ONNX Runtime Server, OpenAI). The model "hash"
// selects a local feature-hashing embedder that needs no server. Any other
// model without an endpoint fails with a missing-dependency error.
//
//	emb := embed.New(embed.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "bge-base-en-v1.5",
//	})
//	vecs, err := emb.EmbedBatch(ctx, []string{"first chunk", "second chunk"})
package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// HashModel names the local feature-hashing embedder.
const HashModel = "hash"

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, or 0 before the first call
	// when auto-detecting.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Preset is a named model choice.
type Preset struct {
	Name      string
	Model     string
	Dimension int
}

var presets = map[string]Preset{
	"fast":         {"fast", "all-MiniLM-L6-v2", 384},
	"balanced":     {"balanced", "bge-base-en-v1.5", 768},
	"quality":      {"quality", "bge-large-en-v1.5", 1024},
	"multilingual": {"multilingual", "multilingual-e5-base", 768},
}

// LookupPreset returns the preset with the given name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// Config configures an Embedder.
type Config struct {
	// Endpoint is the base URL of the embedding server. Required unless
	// Model is HashModel.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in requests.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 auto-detects on the
	// first remote call; the hashing embedder defaults to 768.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from cfg.
func New(cfg Config) Embedder {
	cfg.defaults()
	switch {
	case cfg.Model == HashModel:
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &hashEmbedder{dim: dim}
	case cfg.Endpoint == "":
		return unavailable{model: cfg.Model, dim: cfg.Dimension}
	}
	return newOpenAIClient(cfg)
}

// unavailable stands for a model with no server to run it.
type unavailable struct {
	model string
	dim   int
}

func (u unavailable) err() error {
	return kerr.MissingDependency("embed: no endpoint configured for model %q", u.model)
}

func (u unavailable) Embed(context.Context, string) ([]float32, error) { return nil, u.err() }
func (u unavailable) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, u.err()
}
func (u unavailable) Dimension() int { return u.dim }
func (u unavailable) Model() string  { return u.model }

// FromExtraction builds an Embedder from an extraction EmbeddingConfig,
// resolving preset names to model ids and dimensions.
func FromExtraction(ec *config.EmbeddingConfig, logger *slog.Logger) Embedder {
	cfg := Config{
		Endpoint:  ec.Endpoint,
		Model:     ec.Model,
		Dimension: ec.Dimension,
		BatchSize: ec.BatchSize,
		Logger:    logger,
	}
	if p, ok := LookupPreset(ec.Model); ok {
		cfg.Model = p.Model
		if cfg.Dimension == 0 {
			cfg.Dimension = p.Dimension
		}
	}
	return New(cfg)
}
