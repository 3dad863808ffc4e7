// Package document defines the data produced by extraction: the raw Outcome
// returned by a format extractor and the assembled Result handed to callers.
package document

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Well-known metadata keys written by the pipeline.
const (
	MetaPageCount           = "page_count"
	MetaTitle               = "title"
	MetaChunkCount          = "chunk_count"
	MetaEmbeddingsGenerated = "embeddings_generated"
	MetaEmbeddingError      = "embedding_error"
	MetaOCRApplied          = "ocr_applied"
	MetaOCRReason           = "ocr_reason"
	MetaQualityScore        = "quality_score"
	MetaKeywords            = "keywords"
	MetaLanguage            = "language"
	MetaProcessingWarnings  = "processing_warnings"
)

// Metadata is the format-dependent key/value bag of a result.
type Metadata map[string]any

// Table is a 2D cell grid with its Markdown rendering.
type Table struct {
	Cells      [][]string `json:"cells"`
	Markdown   string     `json:"markdown"`
	PageNumber int        `json:"page_number"`
}

// NewTable builds a table and renders its Markdown. The first row is the
// header.
func NewTable(cells [][]string, page int) Table {
	return Table{Cells: cells, Markdown: MarkdownTable(cells), PageNumber: page}
}

// MarkdownTable renders cells as a GitHub-flavoured Markdown table.
func MarkdownTable(cells [][]string) string {
	if len(cells) == 0 {
		return ""
	}
	width := 0
	for _, row := range cells {
		width = max(width, len(row))
	}
	if width == 0 {
		return ""
	}
	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteByte('|')
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = strings.ReplaceAll(strings.TrimSpace(row[i]), "|", `\|`)
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteByte('\n')
	}
	writeRow(cells[0])
	sb.WriteByte('|')
	for i := 0; i < width; i++ {
		sb.WriteString(" --- |")
	}
	sb.WriteByte('\n')
	for _, row := range cells[1:] {
		writeRow(row)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Image is an image found in (or constituting) a document.
type Image struct {
	Data       []byte  `json:"data"`
	Format     string  `json:"format"`
	Width      *int    `json:"width"`
	Height     *int    `json:"height"`
	ImageIndex int     `json:"image_index"`
	PageNumber *int    `json:"page_number,omitempty"`
	Colorspace *string `json:"colorspace,omitempty"`
	IsMask     bool    `json:"is_mask"`
	OCRResult  *Result `json:"ocr_result,omitempty"`
}

// ChunkMetadata locates a chunk in the content.
type ChunkMetadata struct {
	ByteStart   int `json:"byte_start"`
	ByteEnd     int `json:"byte_end"`
	ChunkIndex  int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`
}

// Chunk is a bounded segment of content with an optional embedding.
type Chunk struct {
	Content    string        `json:"content"`
	TokenCount int           `json:"token_count"`
	Embedding  []float32     `json:"embedding,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// Page is the per-page breakdown of a paged document.
type Page struct {
	PageNumber int     `json:"page_number"`
	Content    string  `json:"content"`
	Tables     []Table `json:"tables,omitempty"`
	Images     []Image `json:"images,omitempty"`
	// Coverage is the fraction of text blocks carrying font or position
	// data, or -1 when the extractor could not tell.
	Coverage float64 `json:"-"`
}

// Element types used by element-based results.
const (
	ElementTitle     = "title"
	ElementHeading   = "heading"
	ElementParagraph = "paragraph"
	ElementListItem  = "list_item"
	ElementTable     = "table"
	ElementPageBreak = "page_break"
)

// Element is one semantic unit of an element-based result.
type Element struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Level      int      `json:"level,omitempty"`
	PageNumber int      `json:"page_number,omitempty"`
	Metadata   Metadata `json:"metadata,omitempty"`
}

// DetectedLanguage is a language with its confidence.
type DetectedLanguage struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

// Block is a run of text with its font size and optional bounding box,
// used for heading detection.
type Block struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"font_size"`
	BBox     *BBox   `json:"bbox,omitempty"`
	Page     int     `json:"page"`
}

// BBox is an axis-aligned box in page coordinates.
type BBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Outcome is what a format extractor returns, before any pipeline
// post-processing.
type Outcome struct {
	Content  string
	MIMEType string
	Metadata Metadata
	Tables   []Table
	Images   []Image
	Pages    []Page
	Blocks   []Block
	// Sections optionally carries structural units (headings, paragraphs,
	// lists, tables) for element-based output and markup rendering.
	Sections []Element
	// ImageOnly marks inputs with no extractable text layer, such as a
	// scanned page or a bare image.
	ImageOnly bool
	// SourceHTML is set when the content came from HTML; markup output
	// formats render from it.
	SourceHTML string
}

// Result is the assembled extraction output.
type Result struct {
	Content           string             `json:"content"`
	MIMEType          string             `json:"mime_type"`
	Metadata          Metadata           `json:"metadata"`
	Tables            []Table            `json:"tables"`
	Images            []Image            `json:"images,omitempty"`
	Chunks            []Chunk            `json:"chunks,omitempty"`
	Pages             []Page             `json:"pages,omitempty"`
	Elements          []Element          `json:"elements,omitempty"`
	DetectedLanguages []DetectedLanguage `json:"detected_languages,omitempty"`
}

// FromOutcome seeds a result from an extractor outcome.
func FromOutcome(o *Outcome) *Result {
	r := &Result{
		Content:  o.Content,
		MIMEType: o.MIMEType,
		Metadata: maps.Clone(o.Metadata),
		Tables:   slices.Clone(o.Tables),
		Images:   slices.Clone(o.Images),
		Pages:    slices.Clone(o.Pages),
	}
	if r.Metadata == nil {
		r.Metadata = Metadata{}
	}
	if r.Tables == nil {
		r.Tables = []Table{}
	}
	return r
}

// Clone returns a deep copy. Metadata values are copied through JSON when
// they are not plain scalars.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = r.Metadata.Clone()
	if r.Tables != nil {
		out.Tables = make([]Table, len(r.Tables))
		for i, t := range r.Tables {
			out.Tables[i] = t.clone()
		}
	}
	if r.Images != nil {
		out.Images = make([]Image, len(r.Images))
		for i, im := range r.Images {
			out.Images[i] = im.clone()
		}
	}
	if r.Chunks != nil {
		out.Chunks = make([]Chunk, len(r.Chunks))
		for i, c := range r.Chunks {
			c.Embedding = slices.Clone(c.Embedding)
			out.Chunks[i] = c
		}
	}
	if r.Pages != nil {
		out.Pages = make([]Page, len(r.Pages))
		for i, p := range r.Pages {
			cp := p
			if p.Tables != nil {
				cp.Tables = make([]Table, len(p.Tables))
				for j, t := range p.Tables {
					cp.Tables[j] = t.clone()
				}
			}
			if p.Images != nil {
				cp.Images = make([]Image, len(p.Images))
				for j, im := range p.Images {
					cp.Images[j] = im.clone()
				}
			}
			out.Pages[i] = cp
		}
	}
	if r.Elements != nil {
		out.Elements = make([]Element, len(r.Elements))
		for i, e := range r.Elements {
			e.Metadata = e.Metadata.Clone()
			out.Elements[i] = e
		}
	}
	out.DetectedLanguages = slices.Clone(r.DetectedLanguages)
	return &out
}

func (t Table) clone() Table {
	out := t
	if t.Cells != nil {
		out.Cells = make([][]string, len(t.Cells))
		for i, row := range t.Cells {
			out.Cells[i] = slices.Clone(row)
		}
	}
	return out
}

func (im Image) clone() Image {
	out := im
	out.Data = slices.Clone(im.Data)
	out.Width = clonePtr(im.Width)
	out.Height = clonePtr(im.Height)
	out.PageNumber = clonePtr(im.PageNumber)
	out.Colorspace = clonePtr(im.Colorspace)
	out.OCRResult = im.OCRResult.Clone()
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone deep-copies metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int64, float64, float32:
		return x
	case []string:
		return slices.Clone(x)
	case Metadata:
		return x.Clone()
	case map[string]any:
		return map[string]any(Metadata(x).Clone())
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if json.Unmarshal(data, &out) != nil {
		return v
	}
	return out
}

// String returns a metadata string value, or "".
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns a metadata integer value, accepting JSON-decoded floats.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
