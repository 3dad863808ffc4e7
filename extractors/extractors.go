// Package extractors holds the built-in format extractors.
//
// Each extractor turns the raw bytes of one family of formats into a
// document.Outcome: plain content, structural sections, tables, images and
// format metadata. Post-processing, OCR and output formatting happen later in
// the pipeline.
//
// Supported formats:
//   - plain text and text-like markup (txt, rst, org, tex, bib, typst)
//   - Markdown (heading detection)
//   - HTML and XHTML (x/net/html DOM walk, hidden content filtered, tables)
//   - DOCX, XLSX, PPTX (archive/zip + encoding/xml)
//   - ODT, ODS (content.xml)
//   - EPUB (XHTML chapters)
//   - PDF (pdfcpu content streams, per-page coverage, image streams)
//   - images (x/image dimension decoding, marked image-only for OCR)
//   - JSON, YAML, TOML, XML, CSV/TSV
//   - email (enmime)
//   - ZIP, TAR and GZIP archives (bounded by SecurityLimits)
package extractors

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// Builtins returns one instance of every built-in extractor.
func Builtins(logger *slog.Logger) []plugin.Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return []plugin.Extractor{
		Text{},
		Markdown{},
		HTML{},
		Docx{},
		Xlsx{},
		Pptx{},
		ODT{},
		ODS{},
		EPUB{},
		&PDF{Logger: logger},
		Image{},
		JSON{},
		YAML{},
		TOML{},
		XML{},
		Delimited{},
		Email{},
		&Archive{Logger: logger},
	}
}

// RegisterBuiltins registers every built-in extractor in reg.
func RegisterBuiltins(reg *plugin.ExtractorRegistry, logger *slog.Logger) error {
	for _, e := range Builtins(logger) {
		if err := reg.RegisterBuiltin(e); err != nil {
			return err
		}
	}
	return nil
}

// joinSections renders sections as plain text, one block per section.
func joinSections(sections []document.Element) string {
	var sb strings.Builder
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// titleOf returns the first heading text, or the first line of content.
func titleOf(sections []document.Element, content string) string {
	for _, s := range sections {
		if s.Type == document.ElementHeading || s.Type == document.ElementTitle {
			return s.Text
		}
	}
	return firstLine(content)
}

func normalizeWhitespace(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > 200 {
		text = string(r[:200])
	}
	return text
}

func limits(cfg *config.ExtractionConfig) *config.SecurityLimits {
	if cfg != nil && cfg.SecurityLimits != nil {
		return cfg.SecurityLimits
	}
	return config.DefaultSecurityLimits()
}

// openZip opens data as a ZIP archive and enforces the archive limits:
// total uncompressed size, compression ratio and member count.
func openZip(data []byte, cfg *config.ExtractionConfig) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, kerr.Parsing("zip: %v", err)
	}
	sl := limits(cfg)
	if len(zr.File) > sl.MaxFilesInArchive {
		return nil, kerr.Validation("zip: %d members exceeds max_files_in_archive %d", len(zr.File), sl.MaxFilesInArchive)
	}
	var total uint64
	for _, f := range zr.File {
		total += f.UncompressedSize64
	}
	if total > uint64(sl.MaxArchiveSize) {
		return nil, kerr.Validation("zip: uncompressed size %d exceeds max_archive_size %d", total, sl.MaxArchiveSize)
	}
	if len(data) > 0 && total/uint64(len(data)) > uint64(sl.MaxCompressionRatio) {
		return nil, kerr.Validation("zip: compression ratio exceeds max_compression_ratio %d", sl.MaxCompressionRatio)
	}
	return zr, nil
}

func zipMember(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// xmlReader bounds element nesting while decoding untrusted XML.
type xmlReader struct {
	*xml.Decoder
	depth    int
	maxDepth int
}

func newXMLReader(r io.Reader, cfg *config.ExtractionConfig) *xmlReader {
	return &xmlReader{Decoder: xml.NewDecoder(r), maxDepth: limits(cfg).MaxNestingDepth}
}

func (x *xmlReader) Token() (xml.Token, error) {
	tok, err := x.Decoder.Token()
	if err != nil {
		return tok, err
	}
	switch tok.(type) {
	case xml.StartElement:
		x.depth++
		if x.maxDepth > 0 && x.depth > x.maxDepth {
			return nil, kerr.Validation("xml nesting depth exceeds max_nesting_depth %d", x.maxDepth)
		}
	case xml.EndElement:
		x.depth--
	}
	return tok, nil
}

// xmlError keeps typed errors (such as the depth limit) and reports anything
// else as malformed input.
func xmlError(prefix string, err error) error {
	if kerr.KindOf(err) != kerr.KindGeneric {
		return err
	}
	return kerr.Parsing("%s: %v", prefix, err)
}
