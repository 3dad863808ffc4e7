package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/kreuzberg/kerr"
)

func fullConfig() *ExtractionConfig {
	c := Default()
	thr := 0.4
	c.ForceOCR = true
	c.OCR = New[OCRConfig]()
	c.OCR.Language = "eng+deu"
	c.OCR.CoverageThreshold = &thr
	c.PDF = New[PDFConfig]()
	c.PDF.Passwords = []string{"secret"}
	c.Chunking = New[ChunkingConfig]()
	c.Embedding = New[EmbeddingConfig]()
	c.Images = New[ImageExtractionConfig]()
	c.Pages = New[PageConfig]()
	c.LanguageDetection = New[LanguageDetectionConfig]()
	c.Keywords = New[KeywordConfig]()
	c.TokenReduction = New[TokenReductionConfig]()
	c.PostProcessor = New[PostProcessorConfig]()
	c.PostProcessor.DisabledProcessors = []string{"keywords"}
	c.SecurityLimits = DefaultSecurityLimits()
	c.Hierarchy = New[HierarchyConfig]()
	c.OutputFormat = OutputMarkdown
	c.ResultFormat = ResultElementBased
	c.MaxConcurrentExtractions = 3
	return c
}

// WHAT: serialize -> deserialize -> serialize is byte-identical.
// WHY: nested configs must come back exactly as they went out, set or not.
func TestRoundTrip(t *testing.T) {
	partial := Default()
	partial.Chunking = &ChunkingConfig{MaxCharacters: 500, Overlap: 50}

	for name, cfg := range map[string]*ExtractionConfig{
		"default": Default(),
		"partial": partial,
		"full":    fullConfig(),
		"zero":    {},
	} {
		first, err := json.Marshal(cfg)
		if err != nil {
			t.Fatalf("%s: marshal: %v", name, err)
		}
		var back ExtractionConfig
		if err := json.Unmarshal(first, &back); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		second, err := json.Marshal(&back)
		if err != nil {
			t.Fatalf("%s: re-marshal: %v", name, err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("%s: round trip differs\n first: %s\nsecond: %s", name, first, second)
		}
	}
}

func TestAbsentNestedIsEmptyObject(t *testing.T) {
	data, err := json.Marshal(Default())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	for _, key := range []string{"ocr", "pdf_options", "chunking", "embedding", "images", "pages",
		"language_detection", "keywords", "token_reduction", "postprocessor", "security_limits", "hierarchy"} {
		v, ok := raw[key]
		if !ok {
			t.Errorf("%s: missing", key)
			continue
		}
		if string(v) != "{}" {
			t.Errorf("%s = %s, want {}", key, v)
		}
	}

	// And {} reads back as absent.
	cfg, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking != nil || cfg.OCR != nil {
		t.Error("empty objects should decode as absent")
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"chunking": {"max_characters": 400}, "use_cache": false}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UseCache {
		t.Error("use_cache should be false")
	}
	if !cfg.EnableQualityProcessing {
		t.Error("enable_quality_processing should keep its default")
	}
	if cfg.Chunking == nil || cfg.Chunking.MaxCharacters != 400 || cfg.Chunking.Overlap != 200 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ExtractionConfig)
		mention string
	}{
		{"ok", func(*ExtractionConfig) {}, ""},
		{"full ok", func(c *ExtractionConfig) { *c = *fullConfig() }, ""},
		{"workers", func(c *ExtractionConfig) { c.MaxConcurrentExtractions = 0 }, "max_concurrent_extractions"},
		{"output", func(c *ExtractionConfig) { c.OutputFormat = "pdf" }, "output_format"},
		{"result", func(c *ExtractionConfig) { c.ResultFormat = "flat" }, "result_format"},
		{"overlap", func(c *ExtractionConfig) { c.Chunking = &ChunkingConfig{MaxCharacters: 1000, Overlap: 1000} }, "overlap"},
		{"psm high", func(c *ExtractionConfig) { c.OCR = New[OCRConfig](); c.OCR.Tesseract.PSM = 14 }, "psm"},
		{"psm low", func(c *ExtractionConfig) { c.OCR = New[OCRConfig](); c.OCR.Tesseract.PSM = -1 }, "psm"},
		{"oem", func(c *ExtractionConfig) { c.OCR = New[OCRConfig](); c.OCR.Tesseract.OEM = 4 }, "oem"},
		{"language", func(c *ExtractionConfig) { c.OCR = New[OCRConfig](); c.OCR.Language = "xyz123" }, "language"},
		{"dpi", func(c *ExtractionConfig) { c.OCR = New[OCRConfig](); c.OCR.Tesseract.Preprocessing.TargetDPI = 0 }, "dpi"},
		{"binarization", func(c *ExtractionConfig) {
			c.OCR = New[OCRConfig]()
			c.OCR.Tesseract.Preprocessing.BinarizationMethod = "magic"
		}, "binarization"},
		{"confidence", func(c *ExtractionConfig) { c.OCR = New[OCRConfig](); c.OCR.Tesseract.MinConfidence = 1.5 }, "min_confidence"},
		{"coverage", func(c *ExtractionConfig) {
			c.OCR = New[OCRConfig]()
			v := -0.1
			c.OCR.CoverageThreshold = &v
		}, "coverage"},
		{"k clusters", func(c *ExtractionConfig) { c.Hierarchy = &HierarchyConfig{KClusters: 8} }, "k_clusters"},
		{"token reduction", func(c *ExtractionConfig) { c.TokenReduction = &TokenReductionConfig{Mode: "extreme"} }, "token_reduction"},
		{"batch size", func(c *ExtractionConfig) { c.Embedding = New[EmbeddingConfig](); c.Embedding.BatchSize = 0 }, "batch_size"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if tt.mention == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !errors.Is(err, kerr.ErrValidation) {
			t.Errorf("%s: not a validation error: %v", tt.name, err)
		}
		if !strings.Contains(err.Error(), tt.mention) {
			t.Errorf("%s: %q does not mention %q", tt.name, err, tt.mention)
		}
	}
}

func TestValidationHelpers(t *testing.T) {
	for psm := 0; psm <= 13; psm++ {
		if err := ValidatePSM(psm); err != nil {
			t.Errorf("ValidatePSM(%d): %v", psm, err)
		}
	}
	for _, psm := range []int{-1, 14} {
		if ValidatePSM(psm) == nil {
			t.Errorf("ValidatePSM(%d) should fail", psm)
		}
	}
	if ValidateBinarization("otsu") != nil {
		t.Error("otsu should be valid")
	}
	if ValidateOCRBackend("tesseract") != nil {
		t.Error("tesseract should be valid")
	}
	for _, l := range []string{"eng", "en", "deu+fra"} {
		if ValidateLanguage(l) != nil {
			t.Errorf("language %q should be valid", l)
		}
	}
	if ValidateLanguage("xyz123") == nil {
		t.Error("xyz123 should be invalid")
	}
	if ValidateTokenReduction("off") != nil {
		t.Error("off should be valid")
	}
	for _, f := range []string{"text", "markdown", "plain", "djot", "html"} {
		if ValidateOutputFormat(f) != nil {
			t.Errorf("output format %q should be valid", f)
		}
	}
}

func TestPostProcessorShouldRun(t *testing.T) {
	var nilCfg *PostProcessorConfig
	if !nilCfg.ShouldRun("x") {
		t.Error("nil config should run everything")
	}
	c := &PostProcessorConfig{Enabled: true, EnabledProcessors: []string{"a", "b"}, DisabledProcessors: []string{"b"}}
	if !c.ShouldRun("a") || c.ShouldRun("b") || c.ShouldRun("c") {
		t.Errorf("filters wrong: a=%v b=%v c=%v", c.ShouldRun("a"), c.ShouldRun("b"), c.ShouldRun("c"))
	}
	if (&PostProcessorConfig{Enabled: false}).ShouldRun("a") {
		t.Error("disabled config should run nothing")
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"c.toml": "use_cache = false\n[chunking]\nmax_characters = 300\noverlap = 30\n",
		"c.yaml": "use_cache: false\nchunking:\n  max_characters: 300\n  overlap: 30\n",
		"c.json": `{"use_cache": false, "chunking": {"max_characters": 300, "overlap": 30}}`,
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte(body), 0644)
		cfg, err := FromFile(p)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if cfg.UseCache {
			t.Errorf("%s: use_cache should be false", name)
		}
		if cfg.Chunking == nil || cfg.Chunking.MaxCharacters != 300 || cfg.Chunking.Overlap != 30 || !cfg.Chunking.Trim {
			t.Errorf("%s: chunking = %+v", name, cfg.Chunking)
		}
		if !cfg.ExtractTables {
			t.Errorf("%s: defaults lost", name)
		}
	}

	bad := filepath.Join(dir, "c.ini")
	os.WriteFile(bad, []byte("x=1"), 0644)
	if _, err := FromFile(bad); !errors.Is(err, kerr.ErrValidation) {
		t.Errorf("ini: expected validation error, got %v", err)
	}
	if _, err := FromFile(filepath.Join(dir, "missing.toml")); !errors.Is(err, kerr.ErrIO) {
		t.Errorf("missing: expected io error, got %v", err)
	}
}

func TestDiscoverWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	os.MkdirAll(nested, 0755)
	os.WriteFile(filepath.Join(root, "kreuzberg.yaml"), []byte("force_ocr: true\n"), 0644)

	cfg, err := discoverFrom(nested)
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || !cfg.ForceOCR {
		t.Fatalf("expected discovered config with force_ocr, got %+v", cfg)
	}
}

func TestClone(t *testing.T) {
	c := fullConfig()
	d := c.Clone()
	d.Chunking.MaxCharacters = 1
	d.PostProcessor.DisabledProcessors[0] = "other"
	*d.OCR.CoverageThreshold = 0.9
	if c.Chunking.MaxCharacters == 1 || c.PostProcessor.DisabledProcessors[0] != "keywords" || *c.OCR.CoverageThreshold != 0.4 {
		t.Error("clone shares state with original")
	}
}
