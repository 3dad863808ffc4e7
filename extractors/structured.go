package extractors

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
)

// flatten renders a decoded tree as "path: value" lines in key order.
func flatten(prefix string, v any, lines *[]string, fields *int) {
	switch x := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(x)) {
			flatten(joinPath(prefix, k), x[k], lines, fields)
		}
	case []any:
		for i, item := range x {
			flatten(prefix+"["+strconv.Itoa(i)+"]", item, lines, fields)
		}
	case nil:
		*fields++
		*lines = append(*lines, prefix+": null")
	default:
		*fields++
		*lines = append(*lines, fmt.Sprintf("%s: %v", prefix, x))
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func structuredOutcome(tree any, mimeType, format string) *document.Outcome {
	var lines []string
	fields := 0
	flatten("", tree, &lines, &fields)
	meta := document.Metadata{
		"format":      format,
		"field_count": fields,
	}
	if m, ok := tree.(map[string]any); ok {
		for _, k := range []string{"title", "name"} {
			if s, ok := m[k].(string); ok && s != "" {
				meta[document.MetaTitle] = s
				break
			}
		}
	}
	return &document.Outcome{
		Content:  strings.Join(lines, "\n"),
		MIMEType: mimeType,
		Metadata: meta,
	}
}

// JSON flattens JSON documents, including Jupyter notebooks.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) SupportedMIMETypes() []string {
	return []string{mime.JSON, "application/x-ipynb+json"}
}

func (JSON) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	var tree any
	dec := json.NewDecoder(bytes.NewReader(trimBOM(data)))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, kerr.Parsing("json: %v", err)
	}
	if mimeType == "application/x-ipynb+json" {
		if o := notebookOutcome(tree, mimeType); o != nil {
			return o, nil
		}
	}
	return structuredOutcome(tree, mimeType, "json"), nil
}

// notebookOutcome renders notebook cells in order, headings for markdown
// cells and raw source for code.
func notebookOutcome(tree any, mimeType string) *document.Outcome {
	root, ok := tree.(map[string]any)
	if !ok {
		return nil
	}
	cells, ok := root["cells"].([]any)
	if !ok {
		return nil
	}
	var sections []document.Element
	for _, c := range cells {
		cell, ok := c.(map[string]any)
		if !ok {
			continue
		}
		var src string
		switch s := cell["source"].(type) {
		case string:
			src = s
		case []any:
			var sb strings.Builder
			for _, line := range s {
				if l, ok := line.(string); ok {
					sb.WriteString(l)
				}
			}
			src = sb.String()
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		if cell["cell_type"] == "markdown" {
			sections = append(sections, markdownSections(src)...)
			continue
		}
		sections = append(sections, document.Element{Type: document.ElementParagraph, Text: strings.TrimSpace(src)})
	}
	content := joinSections(sections)
	meta := document.Metadata{"format": "ipynb", "cell_count": len(cells)}
	if t := titleOf(sections, content); t != "" {
		meta[document.MetaTitle] = t
	}
	return &document.Outcome{Content: content, MIMEType: mimeType, Metadata: meta, Sections: sections}
}

// YAML flattens YAML documents. Documents of a multi-document stream are
// indexed [0], [1], ...
type YAML struct{}

func (YAML) Name() string                 { return "yaml" }
func (YAML) SupportedMIMETypes() []string { return []string{mime.YAML} }

func (YAML) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []any
	for {
		var doc any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, kerr.Parsing("yaml: %v", err)
		}
		docs = append(docs, normalizeYAML(doc))
	}
	if len(docs) == 1 {
		return structuredOutcome(docs[0], mimeType, "yaml"), nil
	}
	o := structuredOutcome(docs, mimeType, "yaml")
	o.Metadata["document_count"] = len(docs)
	return o, nil
}

// normalizeYAML converts map[any]any nodes into map[string]any.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = normalizeYAML(item)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range x {
			x[i] = normalizeYAML(item)
		}
		return x
	}
	return v
}

// TOML flattens TOML documents.
type TOML struct{}

func (TOML) Name() string                 { return "toml" }
func (TOML) SupportedMIMETypes() []string { return []string{mime.TOML} }

func (TOML) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, kerr.Parsing("toml: %v", err)
	}
	return structuredOutcome(tree, mimeType, "toml"), nil
}

// XML extracts character data, one line per text node. SVG text elements
// are covered by the same walk.
type XML struct{}

func (XML) Name() string                 { return "xml" }
func (XML) SupportedMIMETypes() []string { return []string{mime.XML, mime.SVG} }

func (XML) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	dec := newXMLReader(bytes.NewReader(trimBOM(data)), cfg)
	dec.Strict = false
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		lines    []string
		elements int
		root     string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xmlError("xml", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			elements++
			if root == "" {
				root = t.Name.Local
			}
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				lines = append(lines, s)
			}
		}
	}
	if elements == 0 {
		return nil, kerr.Parsing("xml: no elements")
	}
	meta := document.Metadata{"element_count": elements, "root_element": root}
	return &document.Outcome{
		Content:  strings.Join(lines, "\n"),
		MIMEType: mimeType,
		Metadata: meta,
	}, nil
}

// Delimited extracts CSV and TSV files as a single table. The content is one
// line per row with the non-empty cells joined by spaces.
type Delimited struct{}

func (Delimited) Name() string                 { return "csv" }
func (Delimited) SupportedMIMETypes() []string { return []string{mime.CSV, mime.TSV} }

func (Delimited) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	text, _ := decodeText(data)
	delim := '\t'
	if mimeType != mime.TSV {
		delim = detectDelimiter(text)
	}
	rows, err := parseDelimited(text, delim)
	if err != nil {
		return nil, kerr.Parsing("csv: %v", err)
	}

	var lines []string
	cols := 0
	for _, row := range rows {
		cols = max(cols, len(row))
		var cells []string
		for _, c := range row {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	}

	var tables []document.Table
	if len(rows) > 0 {
		tables = []document.Table{document.NewTable(rows, 1)}
	}
	return &document.Outcome{
		Content:  strings.Join(lines, "\n"),
		MIMEType: mimeType,
		Metadata: document.Metadata{
			"row_count":         len(rows),
			"column_count":      cols,
			"extraction_method": "native_csv",
		},
		Tables: tables,
	}, nil
}

func parseDelimited(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// detectDelimiter picks the candidate that splits the first lines into a
// constant column count greater than one.
func detectDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	sample := strings.Join(lines, "\n")

	best, bestCols := ',', 0
	for _, cand := range []rune{',', '\t', '|', ';'} {
		rows, err := parseDelimited(sample, cand)
		if err != nil || len(rows) < 2 {
			continue
		}
		n := len(rows[0])
		if n <= 1 {
			continue
		}
		consistent := true
		for _, row := range rows[1:] {
			if len(row) != n {
				consistent = false
				break
			}
		}
		if consistent && n > bestCols {
			best, bestCols = cand, n
		}
	}
	return best
}
