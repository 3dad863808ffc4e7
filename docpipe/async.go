package docpipe

import (
	"context"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/deferred"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// The async variants validate their arguments before queueing: an invalid
// config or mismatched batch comes back as an already-resolved handle and
// never occupies a worker.

// ExtractFileAsync starts ExtractFile on the engine's worker pool and
// returns immediately. Cancelling the handle before a worker picks it up
// means no extraction runs.
func (p *Pipeline) ExtractFileAsync(ctx context.Context, path, mimeType string, cfg *config.ExtractionConfig) *deferred.Deferred[*document.Result] {
	cfg, err := p.resolve(cfg)
	if err != nil {
		return deferred.Resolved[*document.Result](nil, err)
	}
	return deferred.Go(ctx, p.runner, func(ctx context.Context) (*document.Result, error) {
		return p.ExtractFile(ctx, path, mimeType, cfg)
	})
}

// ExtractBytesAsync starts ExtractBytes on the worker pool.
func (p *Pipeline) ExtractBytesAsync(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) *deferred.Deferred[*document.Result] {
	cfg, err := p.resolve(cfg)
	if err != nil {
		return deferred.Resolved[*document.Result](nil, err)
	}
	return deferred.Go(ctx, p.runner, func(ctx context.Context) (*document.Result, error) {
		return p.ExtractBytes(ctx, data, mimeType, cfg)
	})
}

// BatchExtractFilesAsync runs BatchExtractFiles in the background.
func (p *Pipeline) BatchExtractFilesAsync(ctx context.Context, paths []string, cfg *config.ExtractionConfig) *deferred.Deferred[[]BatchItem] {
	cfg, err := p.resolve(cfg)
	if err != nil {
		return deferred.Resolved[[]BatchItem](nil, err)
	}
	return deferred.Go(ctx, p.runner, func(ctx context.Context) ([]BatchItem, error) {
		return p.BatchExtractFiles(ctx, paths, cfg)
	})
}

// BatchExtractBytesAsync runs BatchExtractBytes in the background.
func (p *Pipeline) BatchExtractBytesAsync(ctx context.Context, datas [][]byte, mimeTypes []string, cfg *config.ExtractionConfig) *deferred.Deferred[[]BatchItem] {
	if len(datas) != len(mimeTypes) {
		return deferred.Resolved[[]BatchItem](nil, kerr.Validation("docpipe: %d inputs but %d mime types", len(datas), len(mimeTypes)))
	}
	cfg, err := p.resolve(cfg)
	if err != nil {
		return deferred.Resolved[[]BatchItem](nil, err)
	}
	return deferred.Go(ctx, p.runner, func(ctx context.Context) ([]BatchItem, error) {
		return p.BatchExtractBytes(ctx, datas, mimeTypes, cfg)
	})
}
