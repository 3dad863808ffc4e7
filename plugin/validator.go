package plugin

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
)

// Phase selects when a validator runs.
type Phase int

const (
	// PhasePre runs before extraction. ValidationInput.Result is nil.
	PhasePre Phase = iota
	// PhaseFinal runs after every post-processing stage and chunking.
	PhaseFinal
)

func (p Phase) String() string {
	if p == PhaseFinal {
		return "final"
	}
	return "pre"
}

// ValidationInput is what a validator inspects.
type ValidationInput struct {
	Data     []byte
	MIMEType string
	// Path is empty for byte inputs.
	Path   string
	Config *config.ExtractionConfig
	Result *document.Result
}

// Validator approves or rejects an extraction. Any error aborts the run.
type Validator interface {
	Name() string
	// Priority orders validators; lower runs first.
	Priority() int
	Phase() Phase
	ShouldValidate(in *ValidationInput) bool
	Validate(ctx context.Context, in *ValidationInput) error
}

// ValidatorRegistry holds validators ordered by priority.
type ValidatorRegistry struct {
	o ordered[Validator]
}

// NewValidatorRegistry creates an empty registry.
func NewValidatorRegistry(logger *slog.Logger) *ValidatorRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidatorRegistry{o: ordered[Validator]{kind: "validator", logger: logger}}
}

// Register adds v. A validator with the same name is replaced and shut down.
func (r *ValidatorRegistry) Register(v Validator) error { return r.o.register(v) }

// Unregister removes and shuts down the named validator.
func (r *ValidatorRegistry) Unregister(name string) { r.o.unregister(name) }

// List returns validator names in execution order.
func (r *ValidatorRegistry) List() []string { return r.o.list() }

// Clear removes and shuts down every validator.
func (r *ValidatorRegistry) Clear() { r.o.clear() }

// Snapshot returns the validators of phase in execution order.
func (r *ValidatorRegistry) Snapshot(phase Phase) []Validator {
	return r.o.snapshot(func(v Validator) bool { return v.Phase() == phase })
}
