// Package config defines ExtractionConfig, the read-only settings aggregate
// consumed by the extraction pipeline.
//
// Nested configs are optional: a nil pointer means the feature is not
// configured. On the wire an absent nested config is written as {} and {} is
// read back as absent, so a config always round-trips byte for byte.
package config

import (
	"runtime"
	"slices"
)

// OutputFormat selects how content is rendered.
type OutputFormat string

const (
	OutputPlain    OutputFormat = "plain"
	OutputMarkdown OutputFormat = "markdown"
	OutputDjot     OutputFormat = "djot"
	OutputHTML     OutputFormat = "html"
)

// ResultFormat selects the result layout.
type ResultFormat string

const (
	ResultUnified      ResultFormat = "unified"
	ResultElementBased ResultFormat = "element_based"
)

// ExtractionConfig is the per-call configuration aggregate.
type ExtractionConfig struct {
	UseCache                bool `json:"use_cache"`
	ForceOCR                bool `json:"force_ocr"`
	EnableQualityProcessing bool `json:"enable_quality_processing"`
	ExtractImages           bool `json:"extract_images"`
	ExtractTables           bool `json:"extract_tables"`

	OCR               *OCRConfig               `json:"ocr"`
	PDF               *PDFConfig               `json:"pdf_options"`
	Chunking          *ChunkingConfig          `json:"chunking"`
	Embedding         *EmbeddingConfig         `json:"embedding"`
	Images            *ImageExtractionConfig   `json:"images"`
	Pages             *PageConfig              `json:"pages"`
	LanguageDetection *LanguageDetectionConfig `json:"language_detection"`
	Keywords          *KeywordConfig           `json:"keywords"`
	TokenReduction    *TokenReductionConfig    `json:"token_reduction"`
	PostProcessor     *PostProcessorConfig     `json:"postprocessor"`
	SecurityLimits    *SecurityLimits          `json:"security_limits"`
	Hierarchy         *HierarchyConfig         `json:"hierarchy"`

	OutputFormat             OutputFormat `json:"output_format"`
	ResultFormat             ResultFormat `json:"result_format"`
	MaxConcurrentExtractions int          `json:"max_concurrent_extractions"`
}

// Default returns the default configuration: caching and quality processing
// on, tables extracted, plain unified output, one worker per CPU.
func Default() *ExtractionConfig {
	return &ExtractionConfig{
		UseCache:                 true,
		EnableQualityProcessing:  true,
		ExtractTables:            true,
		OutputFormat:             OutputPlain,
		ResultFormat:             ResultUnified,
		MaxConcurrentExtractions: runtime.NumCPU(),
	}
}

// OCRConfig selects and tunes the OCR backend.
type OCRConfig struct {
	Backend  string `json:"backend"`
	Language string `json:"language"`
	// CoverageThreshold triggers OCR on digitally extracted pages whose
	// fraction of positioned text blocks falls below it. Nil disables.
	CoverageThreshold *float64        `json:"ocr_coverage_threshold"`
	Tesseract         TesseractConfig `json:"tesseract_config"`
}

// TesseractConfig holds engine parameters.
type TesseractConfig struct {
	PSM           int                 `json:"psm"`
	OEM           int                 `json:"oem"`
	MinConfidence float64             `json:"min_confidence"`
	Preprocessing PreprocessingConfig `json:"preprocessing"`
}

// PreprocessingConfig describes image preparation before recognition.
type PreprocessingConfig struct {
	TargetDPI          int    `json:"target_dpi"`
	BinarizationMethod string `json:"binarization_method"`
	Denoise            bool   `json:"denoise"`
	Deskew             bool   `json:"deskew"`
}

func (c *OCRConfig) setDefaults() {
	c.Backend = "tesseract"
	c.Language = "eng"
	c.Tesseract = TesseractConfig{
		PSM: 3,
		OEM: 3,
		Preprocessing: PreprocessingConfig{
			TargetDPI:          300,
			BinarizationMethod: "otsu",
		},
	}
}

// PDFConfig tunes the PDF extractor.
type PDFConfig struct {
	ExtractImages   bool     `json:"extract_images"`
	ExtractMetadata bool     `json:"extract_metadata"`
	Passwords       []string `json:"passwords"`
}

func (c *PDFConfig) setDefaults() { c.ExtractMetadata = true }

// ChunkingConfig enables chunking. Overlap must be smaller than MaxCharacters.
type ChunkingConfig struct {
	MaxCharacters int  `json:"max_characters"`
	Overlap       int  `json:"overlap"`
	Trim          bool `json:"trim"`
}

func (c *ChunkingConfig) setDefaults() {
	c.MaxCharacters = 1000
	c.Overlap = 200
	c.Trim = true
}

// EmbeddingConfig enables per-chunk embeddings. Model is a preset name
// (fast, balanced, quality, multilingual) or a model id served by Endpoint.
type EmbeddingConfig struct {
	Model     string `json:"model"`
	Endpoint  string `json:"endpoint"`
	Dimension int    `json:"dimension"`
	Normalize bool   `json:"normalize"`
	BatchSize int    `json:"batch_size"`
	// Required turns embedding failures into extraction failures.
	Required bool `json:"required"`
}

func (c *EmbeddingConfig) setDefaults() {
	c.Model = "balanced"
	c.Normalize = true
	c.BatchSize = 32
}

// ImageExtractionConfig controls embedded image extraction.
type ImageExtractionConfig struct {
	ExtractImages     bool `json:"extract_images"`
	TargetDPI         int  `json:"target_dpi"`
	MaxImageDimension int  `json:"max_image_dimension"`
}

func (c *ImageExtractionConfig) setDefaults() {
	c.ExtractImages = true
	c.TargetDPI = 300
	c.MaxImageDimension = 4096
}

// DefaultPageMarker is the marker inserted between pages. {page_num} is
// replaced with the 1-based page number.
const DefaultPageMarker = "\n\n<!-- PAGE {page_num} -->\n\n"

// PageConfig controls per-page output.
type PageConfig struct {
	ExtractPages      bool   `json:"extract_pages"`
	InsertPageMarkers bool   `json:"insert_page_markers"`
	MarkerFormat      string `json:"marker_format"`
}

func (c *PageConfig) setDefaults() {
	c.ExtractPages = true
	c.MarkerFormat = DefaultPageMarker
}

// LanguageDetectionConfig controls language detection.
type LanguageDetectionConfig struct {
	Enabled        bool    `json:"enabled"`
	MinConfidence  float64 `json:"min_confidence"`
	DetectMultiple bool    `json:"detect_multiple"`
}

func (c *LanguageDetectionConfig) setDefaults() {
	c.Enabled = true
	c.MinConfidence = 0.8
}

// KeywordConfig controls keyword extraction.
type KeywordConfig struct {
	MaxKeywords int     `json:"max_keywords"`
	MinScore    float64 `json:"min_score"`
	Language    string  `json:"language"`
}

func (c *KeywordConfig) setDefaults() {
	c.MaxKeywords = 10
	c.Language = "en"
}

// TokenReductionConfig controls stopword and redundancy removal.
type TokenReductionConfig struct {
	Mode                   string `json:"mode"`
	PreserveImportantWords bool   `json:"preserve_important_words"`
}

func (c *TokenReductionConfig) setDefaults() {
	c.Mode = "off"
	c.PreserveImportantWords = true
}

// PostProcessorConfig filters which post-processors run. When
// EnabledProcessors is non-empty only those names run; DisabledProcessors
// always wins.
type PostProcessorConfig struct {
	Enabled            bool     `json:"enabled"`
	EnabledProcessors  []string `json:"enabled_processors"`
	DisabledProcessors []string `json:"disabled_processors"`
}

func (c *PostProcessorConfig) setDefaults() { c.Enabled = true }

// ShouldRun reports whether the named processor passes the filters. A nil
// config lets everything run.
func (c *PostProcessorConfig) ShouldRun(name string) bool {
	if c == nil {
		return true
	}
	if !c.Enabled {
		return false
	}
	for _, d := range c.DisabledProcessors {
		if d == name {
			return false
		}
	}
	if len(c.EnabledProcessors) == 0 {
		return true
	}
	for _, e := range c.EnabledProcessors {
		if e == name {
			return true
		}
	}
	return false
}

// SecurityLimits bounds resource use on hostile input.
type SecurityLimits struct {
	MaxArchiveSize      int64 `json:"max_archive_size"`
	MaxCompressionRatio int   `json:"max_compression_ratio"`
	MaxFilesInArchive   int   `json:"max_files_in_archive"`
	MaxNestingDepth     int   `json:"max_nesting_depth"`
	MaxContentSize      int64 `json:"max_content_size"`
}

func (c *SecurityLimits) setDefaults() {
	c.MaxArchiveSize = 500 << 20
	c.MaxCompressionRatio = 100
	c.MaxFilesInArchive = 10_000
	c.MaxNestingDepth = 100
	c.MaxContentSize = 100 << 20
}

// DefaultSecurityLimits returns the limits applied when none are configured.
func DefaultSecurityLimits() *SecurityLimits {
	l := &SecurityLimits{}
	l.setDefaults()
	return l
}

// HierarchyConfig controls font-size based heading detection.
type HierarchyConfig struct {
	Enabled     bool `json:"enabled"`
	KClusters   int  `json:"k_clusters"`
	IncludeBBox bool `json:"include_bbox"`
}

func (c *HierarchyConfig) setDefaults() {
	c.Enabled = true
	c.KClusters = 6
	c.IncludeBBox = true
}

// New returns a nested config populated with its defaults.
func New[T any, PT interface {
	*T
	setDefaults()
}]() *T {
	v := PT(new(T))
	v.setDefaults()
	return (*T)(v)
}

// Clone returns a deep copy.
func (c *ExtractionConfig) Clone() *ExtractionConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.OCR = clonePtr(c.OCR)
	if out.OCR != nil && c.OCR.CoverageThreshold != nil {
		v := *c.OCR.CoverageThreshold
		out.OCR.CoverageThreshold = &v
	}
	out.PDF = clonePtr(c.PDF)
	if out.PDF != nil {
		out.PDF.Passwords = slices.Clone(c.PDF.Passwords)
	}
	out.Chunking = clonePtr(c.Chunking)
	out.Embedding = clonePtr(c.Embedding)
	out.Images = clonePtr(c.Images)
	out.Pages = clonePtr(c.Pages)
	out.LanguageDetection = clonePtr(c.LanguageDetection)
	out.Keywords = clonePtr(c.Keywords)
	out.TokenReduction = clonePtr(c.TokenReduction)
	out.PostProcessor = clonePtr(c.PostProcessor)
	if out.PostProcessor != nil {
		out.PostProcessor.EnabledProcessors = slices.Clone(c.PostProcessor.EnabledProcessors)
		out.PostProcessor.DisabledProcessors = slices.Clone(c.PostProcessor.DisabledProcessors)
	}
	out.SecurityLimits = clonePtr(c.SecurityLimits)
	out.Hierarchy = clonePtr(c.Hierarchy)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
