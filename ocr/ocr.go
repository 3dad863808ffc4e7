// Package ocr defines the OCR backend capability, the named backend registry,
// the validation gates applied before any recognition call, and the policy
// deciding when extracted content needs OCR.
package ocr

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// Output is what a backend returns for one image.
type Output struct {
	Content  string
	MIMEType string
	Metadata document.Metadata
	Tables   []document.Table
}

// Backend recognises text in images.
type Backend interface {
	Name() string
	SupportedLanguages() []string
	// ProcessImage runs recognition on img. cfg has passed ValidateConfig.
	ProcessImage(ctx context.Context, img []byte, cfg *config.OCRConfig) (*Output, error)
}

// Initializer is implemented by backends that acquire resources on
// registration.
type Initializer interface {
	Initialize() error
}

// Shutdowner is implemented by backends that release resources on
// unregistration.
type Shutdowner interface {
	Shutdown() error
}

// ProgressFunc receives a backend's progress in percent.
type ProgressFunc func(backend string, percent float64)

// ProgressReporter is implemented by backends that accept a progress callback.
type ProgressReporter interface {
	SetProgress(fn ProgressFunc)
}

// Registry holds OCR backends by name. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{backends: make(map[string]Backend), logger: logger}
}

// Register initialises b and stores it. A backend already registered under
// the same name is replaced and shut down.
func (r *Registry) Register(b Backend) error {
	name := b.Name()
	if name == "" {
		return kerr.Validation("ocr: backend name must not be empty")
	}
	if in, ok := b.(Initializer); ok {
		if err := in.Initialize(); err != nil {
			return kerr.PluginFailed(name, err)
		}
	}

	r.mu.Lock()
	old, dup := r.backends[name]
	r.backends[name] = b
	r.mu.Unlock()

	if dup {
		r.logger.Warn("ocr: replacing registered backend", "backend", name)
		r.shutdown(old)
	}
	return nil
}

// Unregister removes and shuts down the named backend. Unknown names are a
// no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	b, ok := r.backends[name]
	delete(r.backends, name)
	r.mu.Unlock()
	if ok {
		r.shutdown(b)
	}
}

// List returns registered backend names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Clear shuts down and removes every backend.
func (r *Registry) Clear() {
	r.mu.Lock()
	old := r.backends
	r.backends = make(map[string]Backend)
	r.mu.Unlock()
	for _, b := range old {
		r.shutdown(b)
	}
}

// Get returns the named backend.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, kerr.Validation("ocr: unknown OCR backend %q", name)
	}
	return b, nil
}

func (r *Registry) shutdown(b Backend) {
	s, ok := b.(Shutdowner)
	if !ok {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("ocr: backend shutdown panicked", "backend", b.Name(), "panic", p)
		}
	}()
	if err := s.Shutdown(); err != nil {
		r.logger.Warn("ocr: backend shutdown failed", "backend", b.Name(), "error", err)
	}
}

// ValidateConfig applies every OCR gate to cfg and checks the backend is
// registered in r. It never adjusts values.
func (r *Registry) ValidateConfig(cfg *config.OCRConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	_, err := r.Get(cfg.Backend)
	return err
}

// ValidateConfig applies the language, psm, oem, dpi, confidence, coverage
// and binarization gates.
func ValidateConfig(cfg *config.OCRConfig) error {
	if cfg == nil {
		return kerr.Validation("ocr: config is nil")
	}
	return cfg.Validate()
}
