package docpipe

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// BatchItem is the outcome of one batch input: a result or an error.
type BatchItem struct {
	Result *document.Result
	Err    error
}

// BatchExtractFiles extracts paths with at most max_concurrent_extractions
// runs in flight. Items are in input order; a failed item does not affect
// the others. The error is only set for an invalid config.
func (p *Pipeline) BatchExtractFiles(ctx context.Context, paths []string, cfg *config.ExtractionConfig) ([]BatchItem, error) {
	cfg, err := p.resolve(cfg)
	if err != nil {
		return nil, err
	}
	return p.batch(ctx, len(paths), cfg, func(ctx context.Context, i int) (*document.Result, error) {
		return p.ExtractFile(ctx, paths[i], "", cfg)
	}), nil
}

// BatchExtractBytes is BatchExtractFiles for in-memory inputs. mimeTypes
// must be as long as datas; an empty entry is detected from content.
func (p *Pipeline) BatchExtractBytes(ctx context.Context, datas [][]byte, mimeTypes []string, cfg *config.ExtractionConfig) ([]BatchItem, error) {
	if len(datas) != len(mimeTypes) {
		return nil, kerr.Validation("docpipe: %d inputs but %d mime types", len(datas), len(mimeTypes))
	}
	cfg, err := p.resolve(cfg)
	if err != nil {
		return nil, err
	}
	return p.batch(ctx, len(datas), cfg, func(ctx context.Context, i int) (*document.Result, error) {
		return p.ExtractBytes(ctx, datas[i], mimeTypes[i], cfg)
	}), nil
}

func (p *Pipeline) batch(ctx context.Context, n int, cfg *config.ExtractionConfig, fn func(context.Context, int) (*document.Result, error)) []BatchItem {
	items := make([]BatchItem, n)
	limit := cfg.MaxConcurrentExtractions
	if limit <= 0 {
		limit = p.cfg.Workers
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range n {
		g.Go(func() error {
			res, err := fn(ctx, i)
			items[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	g.Wait()
	p.logger.Debug("docpipe: batch done", "items", n, "limit", limit)
	return items
}
