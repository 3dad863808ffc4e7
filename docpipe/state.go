package docpipe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// state is a step of a pipeline run.
type state int

const (
	statePreValidate state = iota
	stateExtract
	stateOCR
	stateStructure
	statePostEarly
	statePostMiddle
	statePostLate
	stateChunk
	stateFinalValidate
	stateFormat
	stateAssemble
	stateDone
	stateFailed
)

var stateNames = map[state]string{
	statePreValidate:   "pre_validate",
	stateExtract:       "extract",
	stateOCR:           "ocr",
	stateStructure:     "structure",
	statePostEarly:     "post_early",
	statePostMiddle:    "post_middle",
	statePostLate:      "post_late",
	stateChunk:         "chunk",
	stateFinalValidate: "final_validate",
	stateFormat:        "format",
	stateAssemble:      "assemble",
	stateDone:          "done",
	stateFailed:        "failed",
}

func (s state) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// next is the transition taken when s succeeds. Done and Failed are
// terminal.
func next(s state) state {
	switch s {
	case statePreValidate:
		return stateExtract
	case stateExtract:
		return stateOCR
	case stateOCR:
		return stateStructure
	case stateStructure:
		return statePostEarly
	case statePostEarly:
		return statePostMiddle
	case statePostMiddle:
		return statePostLate
	case statePostLate:
		return stateChunk
	case stateChunk:
		return stateFinalValidate
	case stateFinalValidate:
		return stateFormat
	case stateFormat:
		return stateAssemble
	case stateAssemble:
		return stateDone
	}
	return s
}

// run carries one document through the states. It is not shared between
// goroutines.
type run struct {
	p      *Pipeline
	reg    *plugin.Registry
	cfg    *config.ExtractionConfig
	logger *slog.Logger
	in     input

	outcome    *document.Outcome
	res        *document.Result
	elements   []document.Element
	plain      string
	ocrApplied bool
	markers    bool
}

func newRun(p *Pipeline, cfg *config.ExtractionConfig, in input) *run {
	return &run{
		p:      p,
		reg:    p.reg,
		cfg:    cfg,
		logger: p.logger,
		in:     in,
	}
}

// execute walks the states until Done. The first error moves the run to
// Failed and no result is returned.
func (r *run) execute(ctx context.Context) (*document.Result, error) {
	s := statePreValidate
	for s != stateDone {
		if err := ctx.Err(); err != nil {
			r.logger.Debug("pipeline state", "state", stateFailed, "from", s, "mime", r.in.mime, "error", err)
			return nil, fmt.Errorf("docpipe: %s: %w", s, err)
		}
		r.logger.Debug("pipeline state", "state", s, "mime", r.in.mime)
		if err := r.step(ctx, s); err != nil {
			r.logger.Debug("pipeline state", "state", stateFailed, "from", s, "mime", r.in.mime, "error", err)
			return nil, err
		}
		s = next(s)
	}
	return r.res, nil
}

func (r *run) step(ctx context.Context, s state) error {
	switch s {
	case statePreValidate:
		return r.validate(ctx, plugin.PhasePre)
	case stateExtract:
		return r.extract(ctx)
	case stateOCR:
		return r.ocr(ctx)
	case stateStructure:
		r.structurePages()
		return nil
	case statePostEarly:
		return r.postProcess(ctx, plugin.StageEarly)
	case statePostMiddle:
		return r.postProcess(ctx, plugin.StageMiddle)
	case statePostLate:
		return r.postProcess(ctx, plugin.StageLate)
	case stateChunk:
		return r.chunk(ctx)
	case stateFinalValidate:
		return r.validate(ctx, plugin.PhaseFinal)
	case stateFormat:
		return r.format()
	case stateAssemble:
		r.assemble()
		return nil
	}
	return fmt.Errorf("docpipe: no handler for state %s", s)
}
