package docpipe

import (
	"context"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/pool"
)

// ExtractFileIntoPool extracts path and stores the result in pl. On failure
// the zero View is returned with the error; its accessors answer an empty
// span with StatusOK.
func (p *Pipeline) ExtractFileIntoPool(ctx context.Context, path string, cfg *config.ExtractionConfig, pl *pool.Pool) (pool.View, error) {
	if pl == nil {
		return pool.View{}, kerr.Validation("docpipe: nil result pool")
	}
	res, err := p.ExtractFile(ctx, path, "", cfg)
	if err != nil {
		return pool.View{}, err
	}
	return put(pl, res)
}

// ExtractBytesIntoPool is ExtractFileIntoPool for in-memory input.
func (p *Pipeline) ExtractBytesIntoPool(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig, pl *pool.Pool) (pool.View, error) {
	if pl == nil {
		return pool.View{}, kerr.Validation("docpipe: nil result pool")
	}
	res, err := p.ExtractBytes(ctx, data, mimeType, cfg)
	if err != nil {
		return pool.View{}, err
	}
	return put(pl, res)
}

func put(pl *pool.Pool, res *document.Result) (pool.View, error) {
	v, err := pl.Put(res)
	if err != nil {
		return pool.View{}, kerr.Wrap(kerr.KindGeneric, err, "result pool")
	}
	return v, nil
}
