// Package plugin defines the pluggable capabilities of the extraction
// pipeline (format extractors, validators and post-processors) and the
// process-wide registries that hold them, together with the OCR backend
// registry.
//
// Registries are safe for concurrent use. Pipelines take a snapshot of a
// registry at the start of each stage, so registration during a run is
// either observed or not, never half-applied.
package plugin

import (
	"log/slog"
	"sync"

	"github.com/hazyhaar/kreuzberg/ocr"
)

// Initializer is implemented by plugins that acquire resources when
// registered.
type Initializer interface {
	Initialize() error
}

// Shutdowner is implemented by plugins that release resources when
// unregistered or cleared. Shutdown errors are logged, never returned.
type Shutdowner interface {
	Shutdown() error
}

// Registry aggregates the four plugin registries.
type Registry struct {
	Extractors     *ExtractorRegistry
	OCR            *ocr.Registry
	Validators     *ValidatorRegistry
	PostProcessors *PostProcessorRegistry
}

// NewRegistry creates an empty aggregate registry. A nil logger uses
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		Extractors:     NewExtractorRegistry(logger),
		OCR:            ocr.NewRegistry(logger),
		Validators:     NewValidatorRegistry(logger),
		PostProcessors: NewPostProcessorRegistry(logger),
	}
}

// Shutdown clears every registry, shutting down each plugin best-effort.
// Built-in extractors are shut down too.
func (r *Registry) Shutdown() {
	r.Extractors.shutdownAll()
	r.OCR.Clear()
	r.Validators.Clear()
	r.PostProcessors.Clear()
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry. It starts empty; callers
// register built-ins explicitly.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry(nil)
	})
	return global
}

func shutdown(logger *slog.Logger, kind, name string, p any) {
	s, ok := p.(Shutdowner)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("plugin: shutdown panicked", "kind", kind, "plugin", name, "panic", rec)
		}
	}()
	if err := s.Shutdown(); err != nil {
		logger.Warn("plugin: shutdown failed", "kind", kind, "plugin", name, "error", err)
	}
}

func initialize(p any) error {
	in, ok := p.(Initializer)
	if !ok {
		return nil
	}
	return in.Initialize()
}
