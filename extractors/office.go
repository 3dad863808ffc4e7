package extractors

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
)

func openMember(zr *zip.Reader, name string) (io.ReadCloser, error) {
	f := zipMember(zr, name)
	if f == nil {
		return nil, kerr.Parsing("%s not found in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, kerr.Parsing("open %s: %v", name, err)
	}
	return rc, nil
}

// Docx extracts Word documents from word/document.xml: paragraphs, heading
// styles, list items and tables.
type Docx struct{}

func (Docx) Name() string                 { return "docx" }
func (Docx) SupportedMIMETypes() []string { return []string{mime.Docx} }

func (Docx) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	rc, err := openMember(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	decoder := newXMLReader(rc, cfg)
	var (
		sections       []document.Element
		tables         []document.Table
		current        strings.Builder
		inParagraph    bool
		paragraphStyle string
		isListItem     bool
		tableDepth     int
		rows           [][]string
		row            []string
		cell           strings.Builder
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xmlError("docx", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					rows = nil
				}
			case "tr":
				if tableDepth == 1 {
					row = nil
				}
			case "tc":
				if tableDepth == 1 {
					cell.Reset()
				}
			case "p":
				inParagraph = true
				current.Reset()
				paragraphStyle = ""
				isListItem = false
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						paragraphStyle = a.Value
					}
				}
			case "numPr":
				isListItem = true
			case "tab":
				current.WriteByte('\t')
			case "br":
				current.WriteByte('\n')
			}

		case xml.CharData:
			if inParagraph {
				current.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if !inParagraph {
					continue
				}
				inParagraph = false
				text := strings.TrimSpace(current.String())
				if text == "" {
					continue
				}
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
					continue
				}
				switch level := docxHeadingLevel(paragraphStyle); {
				case level > 0:
					sections = append(sections, document.Element{Type: document.ElementHeading, Text: text, Level: level})
				case isListItem:
					sections = append(sections, document.Element{Type: document.ElementListItem, Text: text})
				default:
					sections = append(sections, document.Element{Type: document.ElementParagraph, Text: text})
				}
			case "tc":
				if tableDepth == 1 {
					row = append(row, cell.String())
				}
			case "tr":
				if tableDepth == 1 && len(row) > 0 {
					rows = append(rows, row)
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(rows) > 0 {
					tbl := document.NewTable(rows, 0)
					tables = append(tables, tbl)
					sections = append(sections, document.Element{Type: document.ElementTable, Text: tbl.Markdown})
				}
			}
		}
	}

	content := joinSections(sections)
	meta := officeCoreMeta(zr, "docProps/core.xml")
	if _, ok := meta[document.MetaTitle]; !ok {
		if t := titleOf(sections, content); t != "" {
			meta[document.MetaTitle] = t
		}
	}
	if cfg != nil && !cfg.ExtractTables {
		tables = nil
	}
	return &document.Outcome{
		Content:  content,
		MIMEType: mimeType,
		Metadata: meta,
		Tables:   tables,
		Sections: sections,
	}, nil
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Heading2" → 2, "Title" → 1.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			rest = strings.TrimSpace(rest)
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

// officeCoreMeta reads Dublin Core properties shared by OOXML packages.
func officeCoreMeta(zr *zip.Reader, name string) document.Metadata {
	meta := document.Metadata{}
	rc, err := openMember(zr, name)
	if err != nil {
		return meta
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var field string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			field = t.Name.Local
		case xml.CharData:
			v := strings.TrimSpace(string(t))
			if v == "" {
				continue
			}
			switch field {
			case "title":
				meta[document.MetaTitle] = v
			case "creator":
				meta["authors"] = []string{v}
			case "subject", "description", "keywords", "created", "modified", "lastModifiedBy":
				meta[field] = v
			}
		case xml.EndElement:
			field = ""
		}
	}
	return meta
}

// Xlsx extracts every worksheet of an Excel workbook as a table.
type Xlsx struct{}

func (Xlsx) Name() string                 { return "xlsx" }
func (Xlsx) SupportedMIMETypes() []string { return []string{mime.Xlsx} }

func (Xlsx) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	shared := xlsxSharedStrings(zr)

	var sheets []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheets = append(sheets, f.Name)
		}
	}
	if len(sheets) == 0 {
		return nil, kerr.Parsing("xlsx: no worksheets found")
	}
	slices.SortFunc(sheets, func(a, b string) int { return sheetNumber(a) - sheetNumber(b) })

	var (
		sections []document.Element
		tables   []document.Table
	)
	for i, name := range sheets {
		rows, err := xlsxSheetRows(zr, name, shared, cfg)
		if err != nil {
			return nil, err
		}
		sections = append(sections, document.Element{Type: document.ElementHeading, Level: 2, Text: fmt.Sprintf("Sheet %d", i+1)})
		if len(rows) == 0 {
			continue
		}
		tbl := document.NewTable(rows, i+1)
		tables = append(tables, tbl)
		sections = append(sections, document.Element{Type: document.ElementTable, Text: tbl.Markdown, PageNumber: i + 1})
	}

	meta := officeCoreMeta(zr, "docProps/core.xml")
	meta["sheet_count"] = len(sheets)
	return &document.Outcome{
		Content:  joinSections(sections),
		MIMEType: mimeType,
		Metadata: meta,
		Tables:   tables,
		Sections: sections,
	}, nil
}

func sheetNumber(name string) int {
	base := strings.TrimSuffix(path.Base(name), ".xml")
	n, _ := strconv.Atoi(strings.TrimPrefix(base, "sheet"))
	return n
}

func xlsxSharedStrings(zr *zip.Reader) []string {
	rc, err := openMember(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil
	}
	defer rc.Close()

	var out []string
	var current strings.Builder
	inSI, inT := false, false
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inSI = true
				current.Reset()
			case "t":
				inT = inSI
			}
		case xml.CharData:
			if inT {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				inSI = false
				out = append(out, current.String())
			}
		}
	}
	return out
}

func xlsxSheetRows(zr *zip.Reader, name string, shared []string, cfg *config.ExtractionConfig) ([][]string, error) {
	rc, err := openMember(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		rows     [][]string
		row      []string
		cellType string
		col      int
		value    strings.Builder
		inValue  bool
	)
	decoder := newXMLReader(rc, cfg)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xmlError("xlsx: "+name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = nil
			case "c":
				cellType, col = "", len(row)
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "t":
						cellType = a.Value
					case "r":
						col = columnIndex(a.Value)
					}
				}
				value.Reset()
			case "v", "t":
				inValue = true
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				v := value.String()
				if cellType == "s" {
					if i, err := strconv.Atoi(v); err == nil && i >= 0 && i < len(shared) {
						v = shared[i]
					}
				}
				for len(row) < col {
					row = append(row, "")
				}
				row = append(row, v)
			case "row":
				if slices.ContainsFunc(row, func(s string) bool { return s != "" }) {
					rows = append(rows, row)
				}
			}
		}
	}
	return rows, nil
}

// columnIndex converts a cell reference such as "C7" to a 0-based column.
func columnIndex(ref string) int {
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		n = n*26 + int(r-'A'+1)
	}
	return max(n-1, 0)
}

// Pptx extracts slide text, one page per slide.
type Pptx struct{}

func (Pptx) Name() string                 { return "pptx" }
func (Pptx) SupportedMIMETypes() []string { return []string{mime.Pptx} }

func (Pptx) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	var slides []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	slices.SortFunc(slides, func(a, b string) int { return slideNumber(a) - slideNumber(b) })

	var (
		sections []document.Element
		pages    []document.Page
	)
	for i, name := range slides {
		paras, err := drawingParagraphs(zr, name, cfg)
		if err != nil {
			return nil, err
		}
		for j, p := range paras {
			el := document.Element{Type: document.ElementParagraph, Text: p, PageNumber: i + 1}
			if j == 0 {
				el.Type, el.Level = document.ElementHeading, 2
			}
			sections = append(sections, el)
		}
		pages = append(pages, document.Page{PageNumber: i + 1, Content: strings.Join(paras, "\n"), Coverage: -1})
	}

	meta := officeCoreMeta(zr, "docProps/core.xml")
	meta["slide_count"] = len(slides)
	meta[document.MetaPageCount] = len(slides)
	return &document.Outcome{
		Content:  joinSections(sections),
		MIMEType: mimeType,
		Metadata: meta,
		Pages:    pages,
		Sections: sections,
	}, nil
}

func slideNumber(name string) int {
	base := strings.TrimSuffix(path.Base(name), ".xml")
	n, _ := strconv.Atoi(strings.TrimPrefix(base, "slide"))
	return n
}

// drawingParagraphs returns the text of each a:p paragraph in a DrawingML part.
func drawingParagraphs(zr *zip.Reader, name string, cfg *config.ExtractionConfig) ([]string, error) {
	rc, err := openMember(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []string
	var current strings.Builder
	inText := false
	decoder := newXMLReader(rc, cfg)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xmlError("pptx: "+name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				current.Reset()
			case "t":
				inText = true
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out, nil
}

// ODT extracts OpenDocument text from content.xml.
type ODT struct{}

func (ODT) Name() string                 { return "odt" }
func (ODT) SupportedMIMETypes() []string { return []string{mime.ODT} }

func (ODT) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	sections, tables, err := odfContent(zr, cfg)
	if err != nil {
		return nil, err
	}
	content := joinSections(sections)
	meta := odfMeta(zr)
	if _, ok := meta[document.MetaTitle]; !ok {
		if t := titleOf(sections, content); t != "" {
			meta[document.MetaTitle] = t
		}
	}
	if cfg != nil && !cfg.ExtractTables {
		tables = nil
	}
	return &document.Outcome{
		Content:  content,
		MIMEType: mimeType,
		Metadata: meta,
		Tables:   tables,
		Sections: sections,
	}, nil
}

// ODS extracts OpenDocument spreadsheets, one table per sheet.
type ODS struct{}

func (ODS) Name() string                 { return "ods" }
func (ODS) SupportedMIMETypes() []string { return []string{mime.ODS} }

func (ODS) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	sections, tables, err := odfContent(zr, cfg)
	if err != nil {
		return nil, err
	}
	meta := odfMeta(zr)
	meta["sheet_count"] = len(tables)
	return &document.Outcome{
		Content:  joinSections(sections),
		MIMEType: mimeType,
		Metadata: meta,
		Tables:   tables,
		Sections: sections,
	}, nil
}

// odfContent walks content.xml collecting headings, paragraphs, list items
// and tables.
func odfContent(zr *zip.Reader, cfg *config.ExtractionConfig) ([]document.Element, []document.Table, error) {
	rc, err := openMember(zr, "content.xml")
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	var (
		sections     []document.Element
		tables       []document.Table
		current      strings.Builder
		inHeading    bool
		headingLevel int
		inParagraph  bool
		listDepth    int
		tableDepth   int
		rows         [][]string
		row          []string
		cell         strings.Builder
	)
	decoder := newXMLReader(rc, cfg)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, xmlError("odf: content.xml", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "h":
				inHeading = true
				current.Reset()
				headingLevel = 1
				for _, a := range t.Attr {
					if a.Name.Local == "outline-level" {
						if n, err := strconv.Atoi(a.Value); err == nil {
							headingLevel = min(max(n, 1), 6)
						}
					}
				}
			case "p":
				inParagraph = true
				current.Reset()
			case "list":
				listDepth++
			case "table":
				tableDepth++
				if tableDepth == 1 {
					rows = nil
				}
			case "table-row":
				row = nil
			case "table-cell":
				cell.Reset()
			case "s":
				current.WriteByte(' ')
			case "tab":
				current.WriteByte('\t')
			}

		case xml.CharData:
			if inHeading || inParagraph {
				current.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "h":
				if !inHeading {
					continue
				}
				inHeading = false
				if text := strings.TrimSpace(current.String()); text != "" {
					sections = append(sections, document.Element{Type: document.ElementHeading, Text: text, Level: headingLevel})
				}
			case "p":
				if !inParagraph {
					continue
				}
				inParagraph = false
				text := strings.TrimSpace(current.String())
				if text == "" {
					continue
				}
				switch {
				case tableDepth > 0:
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
				case listDepth > 0:
					sections = append(sections, document.Element{Type: document.ElementListItem, Text: text})
				default:
					sections = append(sections, document.Element{Type: document.ElementParagraph, Text: text})
				}
			case "list":
				listDepth--
			case "table-cell":
				if tableDepth == 1 {
					row = append(row, cell.String())
				}
			case "table-row":
				if tableDepth == 1 && slices.ContainsFunc(row, func(s string) bool { return s != "" }) {
					rows = append(rows, row)
				}
			case "table":
				tableDepth--
				if tableDepth == 0 && len(rows) > 0 {
					tbl := document.NewTable(rows, 0)
					tables = append(tables, tbl)
					sections = append(sections, document.Element{Type: document.ElementTable, Text: tbl.Markdown})
				}
			}
		}
	}
	return sections, tables, nil
}

// odfMeta reads meta.xml.
func odfMeta(zr *zip.Reader) document.Metadata {
	meta := document.Metadata{}
	rc, err := openMember(zr, "meta.xml")
	if err != nil {
		return meta
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var field string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			field = t.Name.Local
		case xml.CharData:
			v := strings.TrimSpace(string(t))
			if v == "" {
				continue
			}
			switch field {
			case "title":
				meta[document.MetaTitle] = v
			case "initial-creator", "creator":
				meta["authors"] = []string{v}
			case "subject", "description", "keyword", "creation-date", "date":
				meta[field] = v
			}
		case xml.EndElement:
			field = ""
		}
	}
	return meta
}

// EPUB extracts the XHTML chapters of an e-book in archive order.
type EPUB struct{}

func (EPUB) Name() string                 { return "epub" }
func (EPUB) SupportedMIMETypes() []string { return []string{mime.EPUB} }

func (EPUB) Extract(_ context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	var (
		parts    []string
		sections []document.Element
	)
	for _, f := range zr.File {
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".xhtml" && ext != ".html" && ext != ".htm" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, kerr.Parsing("epub: open %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, kerr.Parsing("epub: read %s: %v", f.Name, err)
		}
		if text := htmlText(body); text != "" {
			parts = append(parts, text)
			sections = append(sections, document.Element{Type: document.ElementParagraph, Text: text})
		}
	}
	content := strings.Join(parts, "\n\n")
	meta := document.Metadata{"chapter_count": len(parts)}
	if t := firstLine(content); t != "" {
		meta[document.MetaTitle] = t
	}
	return &document.Outcome{
		Content:  content,
		MIMEType: mimeType,
		Metadata: meta,
		Sections: sections,
	}, nil
}
