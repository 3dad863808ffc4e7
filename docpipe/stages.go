package docpipe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/kreuzberg/chunk"
	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/embed"
	"github.com/hazyhaar/kreuzberg/hierarchy"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/plugin"
)

func (r *run) validate(ctx context.Context, phase plugin.Phase) error {
	validators := r.reg.Validators.Snapshot(phase)
	if len(validators) == 0 {
		return nil
	}
	in := &plugin.ValidationInput{
		Data:     r.in.data,
		MIMEType: r.in.mime,
		Path:     r.in.path,
		Config:   r.cfg,
	}
	if phase == plugin.PhaseFinal {
		in.Result = r.res
	}
	for _, v := range validators {
		if err := callValidator(ctx, v, in); err != nil {
			return err
		}
	}
	return nil
}

func callValidator(ctx context.Context, v plugin.Validator, in *plugin.ValidationInput) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = kerr.FromPanic(v.Name(), rec)
		}
	}()
	if !v.ShouldValidate(in) {
		return nil
	}
	return kerr.PluginFailed(v.Name(), v.Validate(ctx, in))
}

func (r *run) extract(ctx context.Context) error {
	ext, err := r.reg.Extractors.Resolve(r.in.mime)
	if err != nil {
		return err
	}
	out, err := callExtractor(ctx, ext, r.in.data, r.in.mime, r.cfg)
	if err != nil {
		return err
	}
	if out.MIMEType == "" {
		out.MIMEType = r.in.mime
	}
	r.outcome = out
	r.res = document.FromOutcome(out)
	return nil
}

// callExtractor keeps typed extractor errors as they are and attributes
// untyped errors and panics to the extractor.
func callExtractor(ctx context.Context, ext plugin.Extractor, data []byte, mimeType string, cfg *config.ExtractionConfig) (out *document.Outcome, err error) {
	name := ext.Name()
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, kerr.FromPanic(name, rec)
		}
	}()
	out, err = ext.Extract(ctx, data, mimeType, cfg)
	if err != nil {
		var ke *kerr.Error
		if errors.As(err, &ke) {
			return nil, err
		}
		return nil, kerr.PluginFailed(name, err)
	}
	if out == nil {
		return nil, kerr.PluginFailed(name, errors.New("extractor returned no outcome"))
	}
	return out, nil
}

func (r *run) postProcess(ctx context.Context, stage plugin.Stage) error {
	for _, pp := range r.reg.PostProcessors.Snapshot(stage) {
		if !r.cfg.PostProcessor.ShouldRun(pp.Name()) {
			continue
		}
		if err := r.callProcessor(ctx, pp); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) callProcessor(ctx context.Context, pp plugin.PostProcessor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = kerr.FromPanic(pp.Name(), rec)
		}
	}()
	if f, ok := pp.(plugin.ProcessFilter); ok && !f.ShouldProcess(r.res, r.cfg) {
		return nil
	}
	return kerr.PluginFailed(pp.Name(), pp.Process(ctx, r.res, r.cfg))
}

func (r *run) chunk(ctx context.Context) error {
	cc := r.cfg.Chunking
	if cc == nil {
		return nil
	}
	parts, err := chunk.Split(r.res.Content, chunk.Options{
		MaxCharacters: cc.MaxCharacters,
		Overlap:       cc.Overlap,
		Trim:          cc.Trim,
	})
	if err != nil {
		return err
	}
	chunks := make([]document.Chunk, len(parts))
	for i, c := range parts {
		chunks[i] = document.Chunk{
			Content:    c.Text,
			TokenCount: c.TokenCount,
			Metadata: document.ChunkMetadata{
				ByteStart:   c.ByteStart,
				ByteEnd:     c.ByteEnd,
				ChunkIndex:  c.Index,
				TotalChunks: len(parts),
			},
		}
	}
	r.res.Chunks = chunks
	r.res.Metadata[document.MetaChunkCount] = len(chunks)

	if r.cfg.Embedding == nil || len(chunks) == 0 {
		return nil
	}
	return r.embed(ctx)
}

// embed fills chunk embeddings. A failure leaves every embedding absent and
// is recorded in metadata, unless embeddings are required.
func (r *run) embed(ctx context.Context) error {
	ec := r.cfg.Embedding
	vecs, err := r.embedChunks(ctx)
	if err != nil {
		if ec.Required {
			var ke *kerr.Error
			if errors.As(err, &ke) {
				return err
			}
			return kerr.Wrap(kerr.KindGeneric, err, "embedding")
		}
		r.logger.Warn("docpipe: embedding failed", "model", ec.Model, "error", err)
		r.res.Metadata[document.MetaEmbeddingError] = err.Error()
		return nil
	}
	for i := range r.res.Chunks {
		v := vecs[i]
		if ec.Normalize {
			v = embed.Normalize(v)
		}
		r.res.Chunks[i].Embedding = v
	}
	r.res.Metadata[document.MetaEmbeddingsGenerated] = true
	return nil
}

func (r *run) embedChunks(ctx context.Context) (vecs [][]float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			vecs, err = nil, fmt.Errorf("embedder panicked: %v", rec)
		}
	}()
	ec := r.cfg.Embedding
	e := r.p.cfg.Embedder(ec, r.logger)
	batch := ec.BatchSize
	if batch <= 0 {
		batch = 32
	}
	chunks := r.res.Chunks
	vecs = make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		out, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(out) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(out), len(texts))
		}
		vecs = append(vecs, out...)
	}
	return vecs, nil
}

// structure computes the element view of the outcome: font-size hierarchy
// when blocks exist, else the extractor's sections. OCR output has no
// reliable sections.
func (r *run) structure() []document.Element {
	if h := r.cfg.Hierarchy; h != nil && h.Enabled && len(r.outcome.Blocks) > 0 {
		els, err := hierarchy.Elements(r.outcome.Blocks, h.KClusters, h.IncludeBBox)
		if err == nil && len(els) > 0 {
			return els
		}
		if err != nil {
			r.warn("hierarchy: " + err.Error())
		}
	}
	if r.ocrApplied || len(r.outcome.Sections) == 0 {
		return nil
	}
	out := make([]document.Element, len(r.outcome.Sections))
	for i, e := range r.outcome.Sections {
		e.Metadata = e.Metadata.Clone()
		out[i] = e
	}
	return out
}

// paragraphs splits text on blank lines.
func paragraphs(text string) []document.Element {
	var out []document.Element
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		out = append(out, document.Element{Type: document.ElementParagraph, Text: block})
	}
	return out
}

func (r *run) assemble() {
	res := r.res
	if res.Metadata == nil {
		res.Metadata = document.Metadata{}
	}
	if p := r.cfg.Pages; p == nil || !p.ExtractPages {
		res.Pages = nil
	}
	if !r.imagesWanted() {
		res.Images = nil
	}
	if !r.cfg.ExtractTables {
		res.Tables = []document.Table{}
	}

	switch r.cfg.ResultFormat {
	case config.ResultElementBased:
		els := r.elements
		if len(els) == 0 {
			els = paragraphs(r.plain)
		}
		if els == nil {
			els = []document.Element{}
		}
		res.Elements = els
		res.Content = ""
		res.Tables = nil
	default:
		res.Elements = nil
		if res.Tables == nil {
			res.Tables = []document.Table{}
		}
	}
}

func (r *run) imagesWanted() bool {
	c := r.cfg
	return c.ExtractImages ||
		(c.Images != nil && c.Images.ExtractImages) ||
		(c.PDF != nil && c.PDF.ExtractImages)
}

// warn appends to the processing_warnings metadata list.
func (r *run) warn(msg string) {
	ws, _ := r.res.Metadata[document.MetaProcessingWarnings].([]string)
	r.res.Metadata[document.MetaProcessingWarnings] = append(slices.Clip(ws), msg)
}
