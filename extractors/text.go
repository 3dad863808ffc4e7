package extractors

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/mime"
)

// Text extracts plain text and text-like markup formats verbatim.
type Text struct{}

func (Text) Name() string { return "text" }

func (Text) SupportedMIMETypes() []string {
	return []string{
		mime.PlainText, "text/x-rst", "text/x-org", "text/x-djot",
		"application/x-latex", "application/x-bibtex", "application/x-typst",
	}
}

func (Text) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	text, enc := decodeText(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var sections []document.Element
	for _, para := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			sections = append(sections, document.Element{Type: document.ElementParagraph, Text: p})
		}
	}

	meta := document.Metadata{
		"line_count": strings.Count(text, "\n") + 1,
		"word_count": len(strings.Fields(text)),
	}
	if enc != "" {
		meta["encoding"] = enc
	}
	if t := firstLine(text); t != "" {
		meta[document.MetaTitle] = t
	}
	return &document.Outcome{
		Content:  text,
		MIMEType: mimeType,
		Metadata: meta,
		Sections: sections,
	}, nil
}

// decodeText returns data as UTF-8. Invalid UTF-8 is decoded as Windows-1252,
// which is a superset of Latin-1 for printable characters, and the encoding
// name is returned.
func decodeText(data []byte) (string, string) {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data), ""
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		out, _ = charmap.ISO8859_1.NewDecoder().Bytes(data)
		return string(out), "iso-8859-1"
	}
	return string(out), "windows-1252"
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// Markdown extracts Markdown, recording ATX headings as sections.
type Markdown struct{}

func (Markdown) Name() string { return "markdown" }

func (Markdown) SupportedMIMETypes() []string {
	return []string{mime.Markdown, "text/x-markdown", "text/x-commonmark"}
}

func (Markdown) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	text, _ := decodeText(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	sections := markdownSections(text)

	meta := document.Metadata{}
	if t := titleOf(sections, text); t != "" {
		meta[document.MetaTitle] = t
	}
	headings := 0
	for _, s := range sections {
		if s.Type == document.ElementHeading {
			headings++
		}
	}
	meta["heading_count"] = headings

	return &document.Outcome{
		Content:  text,
		MIMEType: mimeType,
		Metadata: meta,
		Sections: sections,
	}, nil
}

func markdownSections(text string) []document.Element {
	var sections []document.Element
	var current strings.Builder
	inFence := false

	flush := func() {
		if p := strings.TrimSpace(current.String()); p != "" {
			typ := document.ElementParagraph
			if strings.HasPrefix(p, "- ") || strings.HasPrefix(p, "* ") {
				typ = document.ElementListItem
			}
			sections = append(sections, document.Element{Type: typ, Text: p})
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			current.WriteString(line + "\n")
			continue
		}
		if inFence {
			current.WriteString(line + "\n")
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			level := 0
			for _, ch := range trimmed {
				if ch != '#' {
					break
				}
				level++
			}
			rest := trimmed[level:]
			if level <= 6 && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
				flush()
				heading := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
				if heading != "" {
					sections = append(sections, document.Element{
						Type:  document.ElementHeading,
						Text:  heading,
						Level: level,
					})
				}
				continue
			}
		}

		if trimmed == "" {
			flush()
			continue
		}
		current.WriteString(trimmed + "\n")
	}
	flush()
	return sections
}
