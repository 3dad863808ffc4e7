package extractors

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
	regexp.MustCompile(`(?i)position\s*:\s*absolute[^;]*-\d{4,}`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		switch {
		case a.Key == "hidden":
			return true
		case a.Key == "aria-hidden" && a.Val == "true":
			return true
		case a.Key == "style":
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

// HTML extracts visible text, headings, lists and tables from HTML.
type HTML struct{}

func (HTML) Name() string { return "html" }

func (HTML) SupportedMIMETypes() []string {
	return []string{mime.HTML, "application/xhtml+xml"}
}

func (HTML) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	text, _ := decodeText(data)
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil, kerr.Parsing("html: %v", err)
	}

	w := &htmlWalker{extractTables: cfg == nil || cfg.ExtractTables}
	w.walk(doc)
	if len(w.sections) == 0 {
		if t := collectHTMLText(doc); t != "" {
			w.sections = append(w.sections, document.Element{Type: document.ElementParagraph, Text: t})
		}
	}

	meta := htmlMeta(doc)
	content := joinSections(w.sections)
	if _, ok := meta[document.MetaTitle]; !ok {
		if t := titleOf(w.sections, content); t != "" {
			meta[document.MetaTitle] = t
		}
	}
	return &document.Outcome{
		Content:    content,
		MIMEType:   mimeType,
		Metadata:   meta,
		Tables:     w.tables,
		Sections:   w.sections,
		SourceHTML: text,
	}, nil
}

type htmlWalker struct {
	extractTables bool
	sections      []document.Element
	tables        []document.Table
}

func (w *htmlWalker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Template, atom.Head:
			return
		}
		if hasHiddenStyle(n) {
			return
		}

		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			if text := collectHTMLText(n); text != "" {
				w.sections = append(w.sections, document.Element{
					Type:  document.ElementHeading,
					Text:  text,
					Level: int(n.Data[1] - '0'),
				})
			}
			return

		case atom.P, atom.Blockquote, atom.Pre:
			if text := collectHTMLText(n); text != "" {
				w.sections = append(w.sections, document.Element{Type: document.ElementParagraph, Text: text})
			}
			return

		case atom.Li:
			if text := collectHTMLText(n); text != "" {
				w.sections = append(w.sections, document.Element{Type: document.ElementListItem, Text: text})
			}
			return

		case atom.Table:
			cells := tableCells(n)
			if len(cells) == 0 {
				return
			}
			t := document.NewTable(cells, 0)
			if w.extractTables {
				w.tables = append(w.tables, t)
			}
			w.sections = append(w.sections, document.Element{Type: document.ElementTable, Text: t.Markdown})
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// tableCells reads rows of th/td cells, skipping nested tables.
func tableCells(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					row = append(row, collectHTMLText(c))
				}
			}
			if len(row) > 0 {
				rows = append(rows, row)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Table {
				continue
			}
			walk(c)
		}
	}
	walk(table)
	return rows
}

// htmlMeta reads <title>, <html lang> and <meta name=... content=...>.
func htmlMeta(doc *html.Node) document.Metadata {
	meta := document.Metadata{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if t := collectHTMLText(n); t != "" {
					meta[document.MetaTitle] = t
				}
			case atom.Html:
				if lang := attr(n, "lang"); lang != "" {
					meta["html_lang"] = lang
				}
			case atom.Meta:
				name := strings.ToLower(attr(n, "name"))
				if name == "" {
					name = strings.ToLower(attr(n, "property"))
				}
				switch name {
				case "description", "keywords", "author", "og:title", "og:description":
					if v := attr(n, "content"); v != "" {
						meta[strings.ReplaceAll(name, ":", "_")] = v
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collectHTMLText extracts all visible text from a node subtree.
func collectHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeWhitespace(sb.String())
}

// htmlText parses an HTML fragment and returns its visible text.
func htmlText(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	w := &htmlWalker{}
	w.walk(doc)
	if len(w.sections) == 0 {
		return collectHTMLText(doc)
	}
	return joinSections(w.sections)
}
