package plugin

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// Extractor converts raw bytes of a supported MIME type into an outcome.
//
// SupportedMIMETypes may contain wildcards: "image/*" claims a top-level
// type and "*/*" claims everything.
type Extractor interface {
	Name() string
	SupportedMIMETypes() []string
	Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error)
}

// ExtractorRegistry maps MIME types to extractors.
type ExtractorRegistry struct {
	mu       sync.RWMutex
	builtins []Extractor
	customs  []Extractor
	logger   *slog.Logger
}

// NewExtractorRegistry creates an empty registry.
func NewExtractorRegistry(logger *slog.Logger) *ExtractorRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractorRegistry{logger: logger}
}

// RegisterBuiltin adds a built-in extractor. Built-ins survive Clear.
func (r *ExtractorRegistry) RegisterBuiltin(e Extractor) error {
	return r.add(e, true)
}

// Register adds a custom extractor. A custom extractor with the same name is
// replaced and shut down.
func (r *ExtractorRegistry) Register(e Extractor) error {
	return r.add(e, false)
}

func (r *ExtractorRegistry) add(e Extractor, builtin bool) error {
	name := e.Name()
	if name == "" {
		return kerr.Validation("plugin: extractor name must not be empty")
	}
	if len(e.SupportedMIMETypes()) == 0 {
		return kerr.Validation("plugin: extractor %q supports no MIME types", name)
	}
	if err := initialize(e); err != nil {
		return kerr.PluginFailed(name, err)
	}

	r.mu.Lock()
	list := &r.customs
	if builtin {
		list = &r.builtins
	}
	var old Extractor
	if i := slices.IndexFunc(*list, func(x Extractor) bool { return x.Name() == name }); i >= 0 {
		old = (*list)[i]
		*list = slices.Delete(*list, i, i+1)
	}
	*list = append(*list, e)
	r.mu.Unlock()

	if old != nil {
		r.logger.Warn("plugin: replacing registered extractor", "extractor", name)
		shutdown(r.logger, "extractor", name, old)
	}
	return nil
}

// Unregister removes the named extractor, custom first, then built-in.
// Unknown names are a no-op.
func (r *ExtractorRegistry) Unregister(name string) {
	r.mu.Lock()
	var removed Extractor
	for _, list := range []*[]Extractor{&r.customs, &r.builtins} {
		if i := slices.IndexFunc(*list, func(x Extractor) bool { return x.Name() == name }); i >= 0 {
			removed = (*list)[i]
			*list = slices.Delete(*list, i, i+1)
			break
		}
	}
	r.mu.Unlock()
	if removed != nil {
		shutdown(r.logger, "extractor", name, removed)
	}
}

// List returns the names of all registered extractors, sorted.
func (r *ExtractorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builtins)+len(r.customs))
	for _, e := range r.builtins {
		names = append(names, e.Name())
	}
	for _, e := range r.customs {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Clear removes and shuts down every custom extractor. Built-ins stay.
func (r *ExtractorRegistry) Clear() {
	r.mu.Lock()
	old := r.customs
	r.customs = nil
	r.mu.Unlock()
	for _, e := range old {
		shutdown(r.logger, "extractor", e.Name(), e)
	}
}

func (r *ExtractorRegistry) shutdownAll() {
	r.mu.Lock()
	old := slices.Concat(r.customs, r.builtins)
	r.customs, r.builtins = nil, nil
	r.mu.Unlock()
	for _, e := range old {
		shutdown(r.logger, "extractor", e.Name(), e)
	}
}

// Resolve picks the extractor for mimeType: a built-in claiming it exactly,
// then a custom claiming it exactly, then a custom wildcard in registration
// order, then a built-in wildcard.
func (r *ExtractorRegistry) Resolve(mimeType string) (Extractor, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := find(r.builtins, mt, exact); e != nil {
		return e, nil
	}
	if e := find(r.customs, mt, exact); e != nil {
		return e, nil
	}
	if e := find(r.customs, mt, wildcard); e != nil {
		return e, nil
	}
	if e := find(r.builtins, mt, wildcard); e != nil {
		return e, nil
	}
	return nil, kerr.Unsupported(mimeType)
}

// SupportedMIMETypes returns every exact MIME type claimed by a registered
// extractor, sorted.
func (r *ExtractorRegistry) SupportedMIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, list := range [][]Extractor{r.builtins, r.customs} {
		for _, e := range list {
			for _, m := range e.SupportedMIMETypes() {
				if !strings.Contains(m, "*") {
					out = append(out, strings.ToLower(m))
				}
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func exact(pattern, mt string) bool { return strings.EqualFold(pattern, mt) }

func wildcard(pattern, mt string) bool {
	pattern = strings.ToLower(pattern)
	switch {
	case pattern == "*/*" || pattern == "*":
		return true
	case strings.HasSuffix(pattern, "/*"):
		return strings.HasPrefix(mt, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func find(list []Extractor, mt string, match func(pattern, mt string) bool) Extractor {
	for _, e := range list {
		for _, p := range e.SupportedMIMETypes() {
			if match(p, mt) {
				return e
			}
		}
	}
	return nil
}
