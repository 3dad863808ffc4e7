package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireConfig is the JSON layout of ExtractionConfig. Nested configs are raw
// so absent ones can be written as {}.
type wireConfig struct {
	UseCache                bool `json:"use_cache"`
	ForceOCR                bool `json:"force_ocr"`
	EnableQualityProcessing bool `json:"enable_quality_processing"`
	ExtractImages           bool `json:"extract_images"`
	ExtractTables           bool `json:"extract_tables"`

	OCR               json.RawMessage `json:"ocr"`
	PDF               json.RawMessage `json:"pdf_options"`
	Chunking          json.RawMessage `json:"chunking"`
	Embedding         json.RawMessage `json:"embedding"`
	Images            json.RawMessage `json:"images"`
	Pages             json.RawMessage `json:"pages"`
	LanguageDetection json.RawMessage `json:"language_detection"`
	Keywords          json.RawMessage `json:"keywords"`
	TokenReduction    json.RawMessage `json:"token_reduction"`
	PostProcessor     json.RawMessage `json:"postprocessor"`
	SecurityLimits    json.RawMessage `json:"security_limits"`
	Hierarchy         json.RawMessage `json:"hierarchy"`

	OutputFormat             OutputFormat `json:"output_format"`
	ResultFormat             ResultFormat `json:"result_format"`
	MaxConcurrentExtractions int          `json:"max_concurrent_extractions"`
}

var emptyObject = json.RawMessage(`{}`)

func encodeNested[T any](p *T) (json.RawMessage, error) {
	if p == nil {
		return emptyObject, nil
	}
	return json.Marshal(p)
}

// decodeNested reads raw into *dst. A missing key leaves *dst untouched, null
// and {} clear it, anything else starts from the nested defaults.
func decodeNested[T any, PT interface {
	*T
	setDefaults()
}](raw json.RawMessage, dst **T) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if bytes.Equal(raw, []byte("null")) {
		*dst = nil
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		*dst = nil
		return nil
	}
	v := PT(new(T))
	v.setDefaults()
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	*dst = (*T)(v)
	return nil
}

// MarshalJSON writes absent nested configs as {}.
func (c ExtractionConfig) MarshalJSON() ([]byte, error) {
	w := wireConfig{
		UseCache:                 c.UseCache,
		ForceOCR:                 c.ForceOCR,
		EnableQualityProcessing:  c.EnableQualityProcessing,
		ExtractImages:            c.ExtractImages,
		ExtractTables:            c.ExtractTables,
		OutputFormat:             c.OutputFormat,
		ResultFormat:             c.ResultFormat,
		MaxConcurrentExtractions: c.MaxConcurrentExtractions,
	}
	var err error
	enc := func(dst *json.RawMessage, f func() (json.RawMessage, error)) {
		if err != nil {
			return
		}
		*dst, err = f()
	}
	enc(&w.OCR, func() (json.RawMessage, error) { return encodeNested(c.OCR) })
	enc(&w.PDF, func() (json.RawMessage, error) { return encodeNested(c.PDF) })
	enc(&w.Chunking, func() (json.RawMessage, error) { return encodeNested(c.Chunking) })
	enc(&w.Embedding, func() (json.RawMessage, error) { return encodeNested(c.Embedding) })
	enc(&w.Images, func() (json.RawMessage, error) { return encodeNested(c.Images) })
	enc(&w.Pages, func() (json.RawMessage, error) { return encodeNested(c.Pages) })
	enc(&w.LanguageDetection, func() (json.RawMessage, error) { return encodeNested(c.LanguageDetection) })
	enc(&w.Keywords, func() (json.RawMessage, error) { return encodeNested(c.Keywords) })
	enc(&w.TokenReduction, func() (json.RawMessage, error) { return encodeNested(c.TokenReduction) })
	enc(&w.PostProcessor, func() (json.RawMessage, error) { return encodeNested(c.PostProcessor) })
	enc(&w.SecurityLimits, func() (json.RawMessage, error) { return encodeNested(c.SecurityLimits) })
	enc(&w.Hierarchy, func() (json.RawMessage, error) { return encodeNested(c.Hierarchy) })
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes over the current values, so decoding into Default()
// keeps defaults for missing keys.
func (c *ExtractionConfig) UnmarshalJSON(data []byte) error {
	w := wireConfig{
		UseCache:                 c.UseCache,
		ForceOCR:                 c.ForceOCR,
		EnableQualityProcessing:  c.EnableQualityProcessing,
		ExtractImages:            c.ExtractImages,
		ExtractTables:            c.ExtractTables,
		OutputFormat:             c.OutputFormat,
		ResultFormat:             c.ResultFormat,
		MaxConcurrentExtractions: c.MaxConcurrentExtractions,
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	c.UseCache = w.UseCache
	c.ForceOCR = w.ForceOCR
	c.EnableQualityProcessing = w.EnableQualityProcessing
	c.ExtractImages = w.ExtractImages
	c.ExtractTables = w.ExtractTables
	c.OutputFormat = w.OutputFormat
	c.ResultFormat = w.ResultFormat
	c.MaxConcurrentExtractions = w.MaxConcurrentExtractions

	steps := []struct {
		key string
		fn  func() error
	}{
		{"ocr", func() error { return decodeNested(w.OCR, &c.OCR) }},
		{"pdf_options", func() error { return decodeNested(w.PDF, &c.PDF) }},
		{"chunking", func() error { return decodeNested(w.Chunking, &c.Chunking) }},
		{"embedding", func() error { return decodeNested(w.Embedding, &c.Embedding) }},
		{"images", func() error { return decodeNested(w.Images, &c.Images) }},
		{"pages", func() error { return decodeNested(w.Pages, &c.Pages) }},
		{"language_detection", func() error { return decodeNested(w.LanguageDetection, &c.LanguageDetection) }},
		{"keywords", func() error { return decodeNested(w.Keywords, &c.Keywords) }},
		{"token_reduction", func() error { return decodeNested(w.TokenReduction, &c.TokenReduction) }},
		{"postprocessor", func() error { return decodeNested(w.PostProcessor, &c.PostProcessor) }},
		{"security_limits", func() error { return decodeNested(w.SecurityLimits, &c.SecurityLimits) }},
		{"hierarchy", func() error { return decodeNested(w.Hierarchy, &c.Hierarchy) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("config: %s: %w", s.key, err)
		}
	}
	return nil
}

// Parse decodes a JSON document over Default().
func Parse(data []byte) (*ExtractionConfig, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Canonical returns the deterministic JSON form used for digests. A nil
// config canonicalises as Default().
func (c *ExtractionConfig) Canonical() ([]byte, error) {
	if c == nil {
		c = Default()
	}
	return json.Marshal(c)
}
