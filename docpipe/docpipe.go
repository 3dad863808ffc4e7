// Package docpipe is the extraction engine. It resolves an extractor for the
// input's MIME type and drives the result through validation, OCR fallback,
// output formatting, three post-processing stages, chunking and final
// validation.
//
// Entry points come in four shapes: synchronous (ExtractFile, ExtractBytes),
// batch (BatchExtractFiles, BatchExtractBytes), asynchronous (the *Async
// variants, returning a deferred handle) and pooled (ExtractFileIntoPool).
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	res, err := pipe.ExtractFile(ctx, "/path/to/file.docx", "", nil)
//	fmt.Println(res.MIMEType, len(res.Content))
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/deferred"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/extractors"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
	"github.com/hazyhaar/kreuzberg/observability"
	"github.com/hazyhaar/kreuzberg/ocr"
	"github.com/hazyhaar/kreuzberg/plugin"
	"github.com/hazyhaar/kreuzberg/postproc"
)

// Pipeline is the document extraction engine. It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	reg    *plugin.Registry
	cache  *cache.Cache
	runner *deferred.Runner
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	reg := cfg.Registry
	if reg == nil {
		reg = plugin.NewRegistry(cfg.Logger)
		if err := RegisterBuiltins(reg, cfg.TesseractBinary, cfg.Logger); err != nil {
			cfg.Logger.Error("docpipe: register builtins", "error", err)
		}
	}
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		reg:    reg,
		cache:  cfg.Cache,
		runner: deferred.NewRunner(cfg.Workers),
	}
}

// RegisterBuiltins registers the built-in extractors, the tesseract OCR
// backend and the built-in post-processors in reg.
func RegisterBuiltins(reg *plugin.Registry, tesseractBinary string, logger *slog.Logger) error {
	if err := extractors.RegisterBuiltins(reg.Extractors, logger); err != nil {
		return fmt.Errorf("extractors: %w", err)
	}
	if err := reg.OCR.Register(ocr.NewTesseract(tesseractBinary, logger)); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := postproc.RegisterBuiltins(reg.PostProcessors, logger); err != nil {
		return fmt.Errorf("postproc: %w", err)
	}
	return nil
}

// Registry returns the plugin registry the pipeline resolves against.
func (p *Pipeline) Registry() *plugin.Registry { return p.reg }

// Cache returns the result cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Close waits for outstanding asynchronous extractions.
func (p *Pipeline) Close() {
	p.runner.Wait()
}

// Detect returns the MIME type of a file, by extension first and content
// second.
func (p *Pipeline) Detect(path string) (string, error) {
	return mime.DetectFromPath(path)
}

// SupportedFormats returns every MIME type an extractor claims.
func (p *Pipeline) SupportedFormats() []string {
	return p.reg.Extractors.SupportedMIMETypes()
}

// input is one document to extract. Exactly one of path and data is used.
type input struct {
	path string
	data []byte
	mime string
}

func (in input) source() string {
	if in.path != "" {
		return "file"
	}
	return "bytes"
}

// ExtractFile extracts the document at path. An empty mimeType is detected
// from the path; a nil cfg uses the engine defaults.
func (p *Pipeline) ExtractFile(ctx context.Context, path, mimeType string, cfg *config.ExtractionConfig) (*document.Result, error) {
	if path == "" {
		return nil, kerr.Validation("docpipe: empty path")
	}
	return p.extract(ctx, input{path: path, mime: mimeType}, cfg)
}

// ExtractBytes extracts data. An empty mimeType is detected from content.
func (p *Pipeline) ExtractBytes(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Result, error) {
	return p.extract(ctx, input{data: data, mime: mimeType}, cfg)
}

func (p *Pipeline) extract(ctx context.Context, in input, cfg *config.ExtractionConfig) (res *document.Result, err error) {
	start := time.Now()
	hit := false
	defer func() { p.record(in, res, err, hit, time.Since(start)) }()

	cfg, err = p.resolve(cfg)
	if err != nil {
		return nil, err
	}
	if in.mime != "" {
		if in.mime, err = mime.Validate(in.mime); err != nil {
			return nil, err
		}
	}
	if err := p.checkSize(in, cfg); err != nil {
		return nil, err
	}

	var key string
	if cfg.UseCache && p.cache != nil {
		key, err = cache.Key(cache.Input{Path: in.path, Data: in.data, MIME: in.mime}, cfg)
		if err != nil {
			p.logger.Warn("docpipe: cache key", "error", err)
			key = ""
		} else if cached, ok := p.cache.Get(ctx, key); ok {
			p.logger.Debug("docpipe: cache hit", "key", key[:16], "mime", cached.MIMEType)
			hit = true
			return cached, nil
		}
	}

	if in.path != "" {
		data, err := os.ReadFile(in.path)
		if err != nil {
			return nil, kerr.IO(err, "read "+in.path)
		}
		in.data = data
		if in.mime == "" {
			if in.mime, err = mime.DetectFromPath(in.path); err != nil {
				return nil, err
			}
		}
	} else if in.mime == "" {
		in.mime = mime.Detect(in.data)
	}

	res, err = newRun(p, cfg, in).execute(ctx)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := p.cache.Put(ctx, key, res); err != nil {
			p.logger.Warn("docpipe: cache store", "error", err)
		}
	}
	return res, nil
}

// resolve picks the effective config and validates it before any I/O.
func (p *Pipeline) resolve(cfg *config.ExtractionConfig) (*config.ExtractionConfig, error) {
	if cfg == nil {
		cfg = p.cfg.Defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Pipeline) checkSize(in input, cfg *config.ExtractionConfig) error {
	limit := config.DefaultSecurityLimits().MaxContentSize
	if cfg.SecurityLimits != nil && cfg.SecurityLimits.MaxContentSize > 0 {
		limit = cfg.SecurityLimits.MaxContentSize
	}
	if in.path == "" {
		if int64(len(in.data)) > limit {
			return kerr.Validation("docpipe: content too large: %d bytes (max %d)", len(in.data), limit)
		}
		return nil
	}
	info, err := os.Stat(in.path)
	if err != nil {
		return kerr.IO(err, "stat "+in.path)
	}
	if info.IsDir() {
		return kerr.Validation("docpipe: %s is a directory", in.path)
	}
	limit = min(limit, p.cfg.MaxFileSize)
	if info.Size() > limit {
		return kerr.Validation("docpipe: file too large: %d bytes (max %d)", info.Size(), limit)
	}
	return nil
}

func (p *Pipeline) record(in input, res *document.Result, err error, hit bool, d time.Duration) {
	if p.cfg.Metrics == nil {
		return
	}
	r := observability.Run{
		MIMEType: in.mime,
		Source:   in.source(),
		Status:   observability.StatusOK,
		Duration: d,
	}
	switch {
	case err != nil:
		r.Status = observability.StatusError
		r.ErrorKind = kerr.KindOf(err).String()
		if errors.Is(err, context.Canceled) {
			r.ErrorKind = "cancelled"
		}
	case hit:
		r.Status = observability.StatusCacheHit
	}
	if res != nil {
		r.MIMEType = res.MIMEType
		r.ContentBytes = len(res.Content)
		r.ChunkCount = len(res.Chunks)
		r.OCRApplied, _ = res.Metadata[document.MetaOCRApplied].(bool)
	}
	if r.MIMEType == "" {
		r.MIMEType = "unknown"
	}
	p.cfg.Metrics.Record(r)
}
