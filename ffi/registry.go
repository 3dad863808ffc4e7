package ffi

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/ocr"
	"github.com/hazyhaar/kreuzberg/plugin"
)

func status(err error) int32 {
	ClearError()
	if err != nil {
		return setError(err)
	}
	return StatusOK
}

func registry() *plugin.Registry { return Engine().Registry() }

// --- extractors ---

func RegisterExtractor(e plugin.Extractor) int32 {
	return status(registry().Extractors.Register(e))
}

func UnregisterExtractor(name string) { registry().Extractors.Unregister(name) }

func ListExtractors() []string { return registry().Extractors.List() }

func ClearExtractors() { registry().Extractors.Clear() }

// --- OCR backends ---

func RegisterOCRBackend(b ocr.Backend) int32 {
	return status(registry().OCR.Register(b))
}

func UnregisterOCRBackend(name string) { registry().OCR.Unregister(name) }

func ListOCRBackends() []string { return registry().OCR.List() }

func ClearOCRBackends() { registry().OCR.Clear() }

// --- validators ---

func RegisterValidator(v plugin.Validator) int32 {
	return status(registry().Validators.Register(v))
}

func UnregisterValidator(name string) { registry().Validators.Unregister(name) }

func ListValidators() []string { return registry().Validators.List() }

func ClearValidators() { registry().Validators.Clear() }

// --- post-processors ---

func RegisterPostProcessor(p plugin.PostProcessor) int32 {
	return status(registry().PostProcessors.Register(p))
}

func UnregisterPostProcessor(name string) { registry().PostProcessors.Unregister(name) }

func ListPostProcessors() []string { return registry().PostProcessors.List() }

func ClearPostProcessors() { registry().PostProcessors.Clear() }

// --- cache ---

// CacheStats returns the result cache counters as JSON.
func CacheStats() string {
	ClearError()
	data, err := json.Marshal(Engine().Cache().Stats(context.Background()))
	if err != nil {
		setError(kerr.Wrap(kerr.KindGeneric, err, "cache stats"))
		return ""
	}
	return string(data)
}

// ClearCache drops every cached result.
func ClearCache() int32 {
	return status(Engine().Cache().Clear(context.Background()))
}
