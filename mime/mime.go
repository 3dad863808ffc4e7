// Package mime maps file extensions and byte signatures to canonical MIME
// types and validates caller-supplied type strings.
package mime

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hazyhaar/kreuzberg/kerr"
)

// Canonical types produced by detection.
const (
	PlainText   = "text/plain"
	Markdown    = "text/markdown"
	HTML        = "text/html"
	CSV         = "text/csv"
	TSV         = "text/tab-separated-values"
	PDF         = "application/pdf"
	JSON        = "application/json"
	XML         = "application/xml"
	YAML        = "application/x-yaml"
	TOML        = "application/toml"
	SVG         = "image/svg+xml"
	EML         = "message/rfc822"
	MSG         = "application/vnd.ms-outlook"
	Zip         = "application/zip"
	Gzip        = "application/gzip"
	Tar         = "application/x-tar"
	SevenZip    = "application/x-7z-compressed"
	Docx        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	Xlsx        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	Pptx        = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	ODT         = "application/vnd.oasis.opendocument.text"
	ODS         = "application/vnd.oasis.opendocument.spreadsheet"
	EPUB        = "application/epub+zip"
	RTF         = "application/rtf"
	OctetStream = "application/octet-stream"
)

var extToMIME = map[string]string{
	"txt":        PlainText,
	"text":       PlainText,
	"log":        PlainText,
	"md":         Markdown,
	"markdown":   Markdown,
	"commonmark": "text/x-commonmark",
	"djot":       "text/x-djot",
	"rst":        "text/x-rst",
	"org":        "text/x-org",
	"pdf":        PDF,
	"html":       HTML,
	"htm":        HTML,
	"xhtml":      HTML,
	"xlsx":       Xlsx,
	"xls":        "application/vnd.ms-excel",
	"xlsm":       "application/vnd.ms-excel.sheet.macroEnabled.12",
	"xlsb":       "application/vnd.ms-excel.sheet.binary.macroEnabled.12",
	"ods":        ODS,
	"pptx":       Pptx,
	"ppsx":       "application/vnd.openxmlformats-officedocument.presentationml.slideshow",
	"pptm":       "application/vnd.ms-powerpoint.presentation.macroEnabled.12",
	"ppt":        "application/vnd.ms-powerpoint",
	"docx":       Docx,
	"doc":        "application/msword",
	"odt":        ODT,
	"rtf":        RTF,
	"epub":       EPUB,
	"bmp":        "image/bmp",
	"gif":        "image/gif",
	"jpg":        "image/jpeg",
	"jpeg":       "image/jpeg",
	"png":        "image/png",
	"tif":        "image/tiff",
	"tiff":       "image/tiff",
	"webp":       "image/webp",
	"jp2":        "image/jp2",
	"j2k":        "image/jp2",
	"pnm":        "image/x-portable-anymap",
	"pbm":        "image/x-portable-bitmap",
	"pgm":        "image/x-portable-graymap",
	"ppm":        "image/x-portable-pixmap",
	"svg":        SVG,
	"csv":        CSV,
	"tsv":        TSV,
	"json":       JSON,
	"ipynb":      "application/x-ipynb+json",
	"yaml":       YAML,
	"yml":        YAML,
	"toml":       TOML,
	"xml":        XML,
	"eml":        EML,
	"msg":        MSG,
	"zip":        Zip,
	"tar":        Tar,
	"gz":         Gzip,
	"tgz":        Gzip,
	"7z":         SevenZip,
	"bib":        "application/x-bibtex",
	"tex":        "application/x-latex",
	"latex":      "application/x-latex",
	"typ":        "application/x-typst",
	"typst":      "application/x-typst",
}

// aliases normalise equivalent spellings to the canonical type.
var aliases = map[string]string{
	"text/x-markdown":              Markdown,
	"text/json":                    JSON,
	"text/xml":                     XML,
	"text/yaml":                    YAML,
	"text/x-yaml":                  YAML,
	"application/yaml":             YAML,
	"text/toml":                    TOML,
	"application/x-toml":           TOML,
	"application/x-zip-compressed": Zip,
	"application/x-gzip":           Gzip,
	"application/tar":              Tar,
	"application/x-gtar":           Tar,
	"text/rtf":                     RTF,
	"application/vnd.epub+zip":     EPUB,
	"application/xhtml+xml":        HTML,
	"text/djot":                    "text/x-djot",
	"image/x-ms-bmp":               "image/bmp",
	"image/x-bmp":                  "image/bmp",
	"image/x-tiff":                 "image/tiff",
	"image/pjpeg":                  "image/jpeg",
}

var supported map[string]bool

func init() {
	supported = make(map[string]bool, len(extToMIME)+len(aliases))
	for _, m := range extToMIME {
		supported[m] = true
	}
	for a := range aliases {
		supported[a] = true
	}
}

// Supported returns every accepted MIME type, sorted.
func Supported() []string {
	out := make([]string, 0, len(supported))
	for m := range supported {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Validate normalises candidate (case, parameters, aliases) and rejects
// unknown types. Any image/* subtype is accepted.
func Validate(candidate string) (string, error) {
	m := strings.TrimSpace(candidate)
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	m = strings.ToLower(m)
	if m == "" {
		return "", kerr.Validation("invalid mime type: empty")
	}
	if canon, ok := aliases[m]; ok {
		return canon, nil
	}
	if supported[m] {
		return m, nil
	}
	if strings.HasPrefix(m, "image/") && len(m) > len("image/") {
		return m, nil
	}
	return "", &kerr.Error{Kind: kerr.KindUnsupportedFormat, Message: "invalid mime type: unsupported " + candidate}
}

// FromExtension returns the type for a file extension (with or without the
// leading dot), or "" when unknown.
func FromExtension(ext string) string {
	return extToMIME[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// ExtensionsFor returns the known extensions for mime, sorted.
func ExtensionsFor(mime string) []string {
	canon, err := Validate(mime)
	if err != nil {
		return nil
	}
	var out []string
	for ext, m := range extToMIME {
		if m == canon {
			out = append(out, ext)
		}
	}
	slices.Sort(out)
	return out
}

// sniffLen bounds how much of a file DetectFromPath reads.
const sniffLen = 3072

// DetectFromPath resolves the type of the file at path, by extension first
// and content second.
func DetectFromPath(path string) (string, error) {
	if m := FromExtension(filepath.Ext(path)); m != "" {
		if _, err := os.Stat(path); err != nil {
			return "", kerr.IO(err, "stat "+path)
		}
		return m, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", kerr.IO(err, "open "+path)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := f.Read(head)
	head = head[:n]
	if bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		// Office containers need the central directory, which lives at the end.
		data, err := os.ReadFile(path)
		if err != nil {
			return "", kerr.IO(err, "read "+path)
		}
		return Detect(data), nil
	}
	return Detect(head), nil
}

// Detect sniffs data and returns its type, defaulting to
// application/octet-stream.
func Detect(data []byte) string {
	if len(data) == 0 {
		return OctetStream
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return refineZip(data)
	}
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return PDF
	}

	if utf8.Valid(data) {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
			return JSON
		}
		if looksLikeHTML(trimmed) {
			return HTML
		}
		if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<svg")) {
			if bytes.Contains(trimmed[:min(len(trimmed), 512)], []byte("<svg")) {
				return SVG
			}
			return XML
		}
	}

	m := mimetype.Detect(data)
	for cur := m; cur != nil; cur = cur.Parent() {
		if canon, err := Validate(cur.String()); err == nil {
			if canon == PlainText && !utf8.Valid(data) {
				break
			}
			return canon
		}
	}
	if utf8.Valid(data) {
		return PlainText
	}
	return OctetStream
}

func looksLikeHTML(b []byte) bool {
	head := bytes.ToLower(b[:min(len(b), 512)])
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<head>")) ||
		bytes.Contains(head, []byte("<body"))
}

// refineZip inspects member names to tell OOXML, ODF and EPUB apart from
// plain archives.
func refineZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Zip
	}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return Docx
		case "xl/workbook.xml":
			return Xlsx
		case "ppt/presentation.xml":
			return Pptx
		case "mimetype":
			rc, err := f.Open()
			if err != nil {
				continue
			}
			buf := make([]byte, 64)
			n, _ := rc.Read(buf)
			rc.Close()
			switch strings.TrimSpace(string(buf[:n])) {
			case ODT:
				return ODT
			case ODS:
				return ODS
			case EPUB:
				return EPUB
			}
		}
	}
	return Zip
}
