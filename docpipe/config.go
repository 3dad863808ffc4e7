package docpipe

import (
	"log/slog"
	"runtime"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/embed"
	"github.com/hazyhaar/kreuzberg/observability"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// EmbedderFunc builds the embedder used for one run.
type EmbedderFunc func(cfg *config.EmbeddingConfig, logger *slog.Logger) embed.Embedder

// Config configures the extraction engine.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// Workers bounds asynchronous extractions (default: NumCPU).
	Workers int `json:"workers" yaml:"workers"`

	// TesseractBinary is the OCR binary registered with the built-ins
	// (default: "tesseract" from PATH).
	TesseractBinary string `json:"tesseract_binary" yaml:"tesseract_binary"`

	// Defaults is used when a call passes a nil ExtractionConfig.
	// Default: config.Default().
	Defaults *config.ExtractionConfig `json:"-" yaml:"-"`

	// Registry holds the plugins. Nil creates a private registry with every
	// built-in extractor, the tesseract backend and the built-in
	// post-processors.
	Registry *plugin.Registry `json:"-" yaml:"-"`

	// Cache serves use_cache lookups. Nil creates an in-memory cache.
	Cache *cache.Cache `json:"-" yaml:"-"`

	// Metrics, when set, records one row per run.
	Metrics *observability.Metrics `json:"-" yaml:"-"`

	// Embedder builds chunk embedders (default: embed.FromExtraction).
	Embedder EmbedderFunc `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Defaults == nil {
		c.Defaults = config.Default()
	}
	if c.Cache == nil {
		c.Cache = cache.New(cache.Config{Logger: c.Logger})
	}
	if c.Embedder == nil {
		c.Embedder = embed.FromExtraction
	}
}
