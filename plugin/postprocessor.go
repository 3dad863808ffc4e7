package plugin

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
)

// Stage is the post-processing stage a processor runs in.
type Stage int

const (
	StageEarly Stage = iota
	StageMiddle
	StageLate
)

// Stages lists stages in execution order.
var Stages = []Stage{StageEarly, StageMiddle, StageLate}

func (s Stage) String() string {
	switch s {
	case StageEarly:
		return "early"
	case StageMiddle:
		return "middle"
	case StageLate:
		return "late"
	}
	return "unknown"
}

// PostProcessor transforms the in-flight result in place.
type PostProcessor interface {
	Name() string
	// Priority orders processors within a stage; lower runs first.
	Priority() int
	Stage() Stage
	Process(ctx context.Context, res *document.Result, cfg *config.ExtractionConfig) error
}

// ProcessFilter is implemented by processors that skip some results.
type ProcessFilter interface {
	ShouldProcess(res *document.Result, cfg *config.ExtractionConfig) bool
}

// PostProcessorRegistry holds post-processors ordered by priority.
type PostProcessorRegistry struct {
	o ordered[PostProcessor]
}

// NewPostProcessorRegistry creates an empty registry.
func NewPostProcessorRegistry(logger *slog.Logger) *PostProcessorRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostProcessorRegistry{o: ordered[PostProcessor]{kind: "post_processor", logger: logger}}
}

// Register adds p. A processor with the same name is replaced and shut down.
func (r *PostProcessorRegistry) Register(p PostProcessor) error { return r.o.register(p) }

// Unregister removes and shuts down the named processor.
func (r *PostProcessorRegistry) Unregister(name string) { r.o.unregister(name) }

// List returns processor names in priority order across all stages.
func (r *PostProcessorRegistry) List() []string { return r.o.list() }

// Clear removes and shuts down every processor.
func (r *PostProcessorRegistry) Clear() { r.o.clear() }

// Snapshot returns the processors of stage in execution order.
func (r *PostProcessorRegistry) Snapshot(stage Stage) []PostProcessor {
	return r.o.snapshot(func(p PostProcessor) bool { return p.Stage() == stage })
}
