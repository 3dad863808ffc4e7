package extractors

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"image"
	"image/png"
	"slices"
	"strings"
	"testing"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
	"github.com/hazyhaar/kreuzberg/plugin"
)

func makeZip(t *testing.T, files ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f[0])
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(f[1]))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func extract(t *testing.T, e plugin.Extractor, data []byte, mimeType string) *document.Outcome {
	t.Helper()
	o, err := e.Extract(context.Background(), data, mimeType, config.Default())
	if err != nil {
		t.Fatalf("%s: %v", e.Name(), err)
	}
	return o
}

func TestTextVerbatim(t *testing.T) {
	o := extract(t, Text{}, []byte("Hello from kreuzberg test."), mime.PlainText)
	if o.Content != "Hello from kreuzberg test." {
		t.Fatalf("content = %q", o.Content)
	}
	if o.Metadata.String(document.MetaTitle) != "Hello from kreuzberg test." {
		t.Errorf("title = %v", o.Metadata[document.MetaTitle])
	}
	if n, _ := o.Metadata.Int("word_count"); n != 4 {
		t.Errorf("word_count = %d", n)
	}
}

func TestTextLatin1Fallback(t *testing.T) {
	o := extract(t, Text{}, []byte("caf\xe9"), mime.PlainText)
	if o.Content != "café" {
		t.Errorf("content = %q", o.Content)
	}
	if o.Metadata.String("encoding") != "windows-1252" {
		t.Errorf("encoding = %v", o.Metadata["encoding"])
	}
}

func TestMarkdownSections(t *testing.T) {
	src := "# My Title\n\nThis is a paragraph.\n\n## Section Two\n\n```\n# not a heading\n```\n\n- item\n"
	o := extract(t, Markdown{}, []byte(src), mime.Markdown)
	if o.Content != src {
		t.Error("markdown content must be kept verbatim")
	}
	if o.Metadata.String(document.MetaTitle) != "My Title" {
		t.Errorf("title = %v", o.Metadata[document.MetaTitle])
	}
	if n, _ := o.Metadata.Int("heading_count"); n != 2 {
		t.Errorf("heading_count = %d, want 2", n)
	}
	last := o.Sections[len(o.Sections)-1]
	if last.Type != document.ElementListItem {
		t.Errorf("last section = %+v", last)
	}
}

func TestHTMLHiddenContentAndTables(t *testing.T) {
	// WHAT: hidden elements are dropped, tables become document.Table.
	// WHY: hidden text is a prompt-injection vector and tables are data.
	src := `<html lang="de"><head><title>Page</title><meta name="description" content="desc"></head><body>
<h1>Heading</h1>
<p>Visible paragraph.</p>
<div style="display:none">secret one</div>
<p hidden>secret two</p>
<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table>
<script>var x = "secret three";</script>
</body></html>`
	o := extract(t, HTML{}, []byte(src), mime.HTML)
	if strings.Contains(o.Content, "secret") {
		t.Errorf("hidden content leaked: %q", o.Content)
	}
	if !strings.Contains(o.Content, "Visible paragraph.") {
		t.Errorf("visible content missing: %q", o.Content)
	}
	if len(o.Tables) != 1 || o.Tables[0].Cells[1][0] != "a" {
		t.Fatalf("tables = %+v", o.Tables)
	}
	if o.Metadata.String(document.MetaTitle) != "Page" || o.Metadata.String("html_lang") != "de" || o.Metadata.String("description") != "desc" {
		t.Errorf("metadata = %v", o.Metadata)
	}
	if o.SourceHTML == "" {
		t.Error("SourceHTML not set")
	}
}

const docxBody = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Test Title</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>This is body text.</w:t></w:r></w:p>` +
	`<w:p><w:pPr><w:numPr/></w:pPr><w:r><w:t>first item</w:t></w:r></w:p>` +
	`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>h1</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>h2</w:t></w:r></w:p></w:tc></w:tr>` +
	`<w:tr><w:tc><w:p><w:r><w:t>c1</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>c2</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
	`<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Section Two</w:t></w:r></w:p>` +
	`</w:body></w:document>`

func TestDocx(t *testing.T) {
	data := makeZip(t, [2]string{"word/document.xml", docxBody})
	o := extract(t, Docx{}, data, mime.Docx)

	if o.Metadata.String(document.MetaTitle) != "Test Title" {
		t.Errorf("title = %v", o.Metadata[document.MetaTitle])
	}
	var types []string
	for _, s := range o.Sections {
		types = append(types, s.Type)
	}
	want := []string{document.ElementHeading, document.ElementParagraph, document.ElementListItem, document.ElementTable, document.ElementHeading}
	if !slices.Equal(types, want) {
		t.Fatalf("section types = %v, want %v", types, want)
	}
	if o.Sections[4].Level != 2 {
		t.Errorf("Heading2 level = %d", o.Sections[4].Level)
	}
	if len(o.Tables) != 1 || o.Tables[0].Cells[1][1] != "c2" {
		t.Errorf("tables = %+v", o.Tables)
	}
	if strings.Contains(o.Content, "h1 h2") || !strings.Contains(o.Content, "| h1 | h2 |") {
		t.Errorf("table should render as markdown in content: %q", o.Content)
	}
}

func TestDocxNestingDepth(t *testing.T) {
	// WHAT: deeply nested XML is rejected with a validation error.
	// WHY: XML bomb defense.
	var b strings.Builder
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for range 300 {
		b.WriteString("<w:p>")
	}
	b.WriteString("<w:r><w:t>deep</w:t></w:r>")
	for range 300 {
		b.WriteString("</w:p>")
	}
	b.WriteString("</w:body></w:document>")

	data := makeZip(t, [2]string{"word/document.xml", b.String()})
	_, err := Docx{}.Extract(context.Background(), data, mime.Docx, config.Default())
	if !errors.Is(err, kerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("error = %v", err)
	}
}

func TestDocxMissingBody(t *testing.T) {
	data := makeZip(t, [2]string{"other.xml", "<x/>"})
	_, err := Docx{}.Extract(context.Background(), data, mime.Docx, nil)
	if !errors.Is(err, kerr.ErrParsing) {
		t.Fatalf("expected parsing error, got %v", err)
	}
}

func TestXlsx(t *testing.T) {
	shared := `<sst><si><t>Name</t></si><si><t>Qty</t></si><si><t>apple</t></si></sst>`
	sheet := `<worksheet><sheetData>` +
		`<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c></row>` +
		`<row r="2"><c r="A2" t="s"><v>2</v></c><c r="B2"><v>3</v></c></row>` +
		`</sheetData></worksheet>`
	data := makeZip(t,
		[2]string{"xl/sharedStrings.xml", shared},
		[2]string{"xl/worksheets/sheet1.xml", sheet},
	)
	o := extract(t, Xlsx{}, data, mime.Xlsx)
	if len(o.Tables) != 1 {
		t.Fatalf("tables = %d", len(o.Tables))
	}
	want := [][]string{{"Name", "Qty"}, {"apple", "3"}}
	for i, row := range want {
		if !slices.Equal(o.Tables[0].Cells[i], row) {
			t.Errorf("row %d = %v, want %v", i, o.Tables[0].Cells[i], row)
		}
	}
	if n, _ := o.Metadata.Int("sheet_count"); n != 1 {
		t.Errorf("sheet_count = %d", n)
	}
}

func TestColumnIndex(t *testing.T) {
	for ref, want := range map[string]int{"A1": 0, "B7": 1, "Z3": 25, "AA1": 26} {
		if got := columnIndex(ref); got != want {
			t.Errorf("columnIndex(%s) = %d, want %d", ref, got, want)
		}
	}
}

func TestPptx(t *testing.T) {
	slide := func(title, body string) string {
		return `<p:sld xmlns:a="a" xmlns:p="p"><p:cSld><p:spTree>` +
			`<a:p><a:r><a:t>` + title + `</a:t></a:r></a:p>` +
			`<a:p><a:r><a:t>` + body + `</a:t></a:r></a:p>` +
			`</p:spTree></p:cSld></p:sld>`
	}
	data := makeZip(t,
		[2]string{"ppt/slides/slide2.xml", slide("Second", "more")},
		[2]string{"ppt/slides/slide1.xml", slide("First", "intro")},
	)
	o := extract(t, Pptx{}, data, mime.Pptx)
	if len(o.Pages) != 2 || o.Pages[0].Content != "First\nintro" {
		t.Fatalf("pages = %+v", o.Pages)
	}
	if !strings.HasPrefix(o.Content, "First") {
		t.Errorf("slides out of order: %q", o.Content)
	}
}

func TestODT(t *testing.T) {
	content := `<office:document-content xmlns:office="o" xmlns:text="t" xmlns:table="tb"><office:body><office:text>` +
		`<text:h text:outline-level="2">Chapter</text:h>` +
		`<text:p>Body text.</text:p>` +
		`<text:list><text:list-item><text:p>point</text:p></text:list-item></text:list>` +
		`<table:table><table:table-row><table:table-cell><text:p>a</text:p></table:table-cell>` +
		`<table:table-cell><text:p>b</text:p></table:table-cell></table:table-row></table:table>` +
		`</office:text></office:body></office:document-content>`
	meta := `<office:document-meta xmlns:office="o" xmlns:dc="dc"><office:meta><dc:title>Report</dc:title></office:meta></office:document-meta>`
	data := makeZip(t, [2]string{"content.xml", content}, [2]string{"meta.xml", meta})
	o := extract(t, ODT{}, data, mime.ODT)

	if o.Metadata.String(document.MetaTitle) != "Report" {
		t.Errorf("title = %v", o.Metadata[document.MetaTitle])
	}
	if len(o.Sections) != 4 {
		t.Fatalf("sections = %+v", o.Sections)
	}
	if o.Sections[0].Level != 2 || o.Sections[2].Type != document.ElementListItem {
		t.Errorf("sections = %+v", o.Sections)
	}
	if len(o.Tables) != 1 || !slices.Equal(o.Tables[0].Cells[0], []string{"a", "b"}) {
		t.Errorf("tables = %+v", o.Tables)
	}
}

func TestOpenZipLimits(t *testing.T) {
	data := makeZip(t, [2]string{"a.txt", "a"}, [2]string{"b.txt", "b"})
	cfg := config.Default()
	cfg.SecurityLimits = config.DefaultSecurityLimits()
	cfg.SecurityLimits.MaxFilesInArchive = 1
	if _, err := openZip(data, cfg); !errors.Is(err, kerr.ErrValidation) {
		t.Fatalf("member limit: %v", err)
	}

	bomb := makeZip(t, [2]string{"zeros.txt", strings.Repeat("0", 1<<20)})
	cfg.SecurityLimits.MaxFilesInArchive = 10
	cfg.SecurityLimits.MaxCompressionRatio = 10
	if _, err := openZip(bomb, cfg); !errors.Is(err, kerr.ErrValidation) {
		t.Fatalf("ratio limit: %v", err)
	}
}

func TestDelimited(t *testing.T) {
	o := extract(t, Delimited{}, []byte("name;qty\napple;3\npear;5\n"), mime.CSV)
	if o.Content != "name qty\napple 3\npear 5" {
		t.Errorf("content = %q", o.Content)
	}
	if len(o.Tables) != 1 || len(o.Tables[0].Cells) != 3 || o.Tables[0].Cells[2][1] != "5" {
		t.Fatalf("tables = %+v", o.Tables)
	}
	if n, _ := o.Metadata.Int("column_count"); n != 2 {
		t.Errorf("column_count = %d", n)
	}

	tsv := extract(t, Delimited{}, []byte("a\tb\n1\t2\n"), mime.TSV)
	if tsv.Tables[0].Cells[1][1] != "2" {
		t.Errorf("tsv cells = %v", tsv.Tables[0].Cells)
	}
}

func TestStructuredFormats(t *testing.T) {
	tests := []struct {
		name     string
		e        plugin.Extractor
		mime     string
		input    string
		contains []string
		title    string
	}{
		{"json", JSON{}, mime.JSON, `{"title":"Doc","items":[1,2],"nested":{"k":"v"}}`,
			[]string{"items[0]: 1", "nested.k: v", "title: Doc"}, "Doc"},
		{"yaml", YAML{}, mime.YAML, "name: x\nlist:\n  - a\n",
			[]string{"list[0]: a", "name: x"}, "x"},
		{"toml", TOML{}, mime.TOML, "title = \"T\"\n[owner]\nname = \"n\"\n",
			[]string{"owner.name: n"}, "T"},
		{"xml", XML{}, mime.XML, `<root><a>one</a><b>two</b></root>`,
			[]string{"one\ntwo"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := extract(t, tt.e, []byte(tt.input), tt.mime)
			for _, want := range tt.contains {
				if !strings.Contains(o.Content, want) {
					t.Errorf("content %q missing %q", o.Content, want)
				}
			}
			if tt.title != "" && o.Metadata.String(document.MetaTitle) != tt.title {
				t.Errorf("title = %v", o.Metadata[document.MetaTitle])
			}
		})
	}

	if _, err := (JSON{}).Extract(context.Background(), []byte("{broken"), mime.JSON, nil); !errors.Is(err, kerr.ErrParsing) {
		t.Errorf("broken json: %v", err)
	}
}

func TestNotebook(t *testing.T) {
	nb := `{"cells":[{"cell_type":"markdown","source":["# Analysis\n","Intro text."]},{"cell_type":"code","source":"print(1)"}]}`
	o := extract(t, JSON{}, []byte(nb), "application/x-ipynb+json")
	if o.Metadata.String(document.MetaTitle) != "Analysis" {
		t.Errorf("title = %v", o.Metadata[document.MetaTitle])
	}
	if !strings.Contains(o.Content, "print(1)") {
		t.Errorf("content = %q", o.Content)
	}
}

func TestEmail(t *testing.T) {
	msg := "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Greetings\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hello body\r\n"
	o := extract(t, Email{}, []byte(msg), mime.EML)
	if !strings.Contains(o.Content, "Hello body") {
		t.Errorf("content = %q", o.Content)
	}
	if o.Metadata.String("subject") != "Greetings" || o.Metadata.String(document.MetaTitle) != "Greetings" {
		t.Errorf("metadata = %v", o.Metadata)
	}
	to, _ := o.Metadata["to"].([]string)
	if len(to) != 1 || to[0] != "bob@example.com" {
		t.Errorf("to = %v", o.Metadata["to"])
	}
}

func TestArchiveTarGzip(t *testing.T) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, f := range []struct{ name, body string }{
		{"docs/notes.txt", "release notes"},
		{"bin/tool", "\x00\x01\x02"},
	} {
		tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o600, Size: int64(len(f.body)), Typeflag: tar.TypeReg})
		tw.Write([]byte(f.body))
	}
	tw.Close()

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(tarBuf.Bytes())
	zw.Close()

	o := extract(t, &Archive{}, gz.Bytes(), mime.Gzip)
	if n, _ := o.Metadata.Int("file_count"); n != 2 {
		t.Errorf("file_count = %d", n)
	}
	if !strings.Contains(o.Content, "release notes") || strings.Contains(o.Content, "\x00") {
		t.Errorf("content = %q", o.Content)
	}
	names, _ := o.Metadata["file_list"].([]string)
	if !slices.Equal(names, []string{"docs/notes.txt", "bin/tool"}) {
		t.Errorf("file_list = %v", names)
	}
}

func TestArchiveZipMemberLimit(t *testing.T) {
	data := makeZip(t, [2]string{"a.txt", "a"}, [2]string{"b.txt", "b"}, [2]string{"c.txt", "c"})
	cfg := config.Default()
	cfg.SecurityLimits = config.DefaultSecurityLimits()
	cfg.SecurityLimits.MaxFilesInArchive = 2
	if _, err := (&Archive{}).Extract(context.Background(), data, mime.Zip, cfg); !errors.Is(err, kerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	o := extract(t, Image{}, buf.Bytes(), "image/png")
	if !o.ImageOnly || len(o.Images) != 1 {
		t.Fatalf("outcome = %+v", o)
	}
	im := o.Images[0]
	if im.Width == nil || *im.Width != 3 || *im.Height != 2 || im.Format != "png" {
		t.Errorf("image = %+v", im)
	}
	if o.Content != "" {
		t.Errorf("image content should be empty before OCR, got %q", o.Content)
	}
}

func TestScanContent(t *testing.T) {
	stream := []byte("BT\n/F1 24 Tf\n72 700 Td\n(Title) Tj\n/F1 12 Tf\n0 -30 Td\n[(Hel) -50 (lo) -300 (world)] TJ\nET\n")
	s := scanContent(stream)
	if s.text != "Title\nHello world" {
		t.Errorf("text = %q", s.text)
	}
	if s.coverage(false) != 1 {
		t.Errorf("coverage = %v", s.coverage(false))
	}
	if len(s.blocks) != 2 || s.blocks[0].FontSize != 24 || s.blocks[1].FontSize != 12 {
		t.Errorf("blocks = %+v", s.blocks)
	}

	bare := scanContent([]byte("BT (raw) Tj ET"))
	if bare.text != "raw" || bare.coverage(false) != 0 {
		t.Errorf("unpositioned text: %q coverage %v", bare.text, bare.coverage(false))
	}

	empty := scanContent([]byte("q 1 0 0 1 0 0 cm /Im0 Do Q"))
	if empty.coverage(true) != 0 || empty.coverage(false) != -1 {
		t.Error("pages without text score 0 with images, -1 without")
	}
}

func TestDecodePDFString(t *testing.T) {
	if got := decodePDFString([]byte(`a\(b\)\101\\`)); got != `a(b)A\` {
		t.Errorf("decodePDFString = %q", got)
	}
}

func TestQualityRatios(t *testing.T) {
	if PrintableRatio("") != 1 {
		t.Error("empty text is fully printable")
	}
	if r := PrintableRatio("a\uFFFD"); r != 0.5 {
		t.Errorf("PrintableRatio = %v", r)
	}
	if r := WordlikeRatio("a word here"); r < 0.66 || r > 0.67 {
		t.Errorf("WordlikeRatio = %v", r)
	}
	if n := VisualRefs("See figure 3 and table 2."); n < 2 {
		t.Errorf("VisualRefs = %d", n)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := plugin.NewExtractorRegistry(nil)
	if err := RegisterBuiltins(reg, nil); err != nil {
		t.Fatal(err)
	}
	tests := map[string]string{
		mime.Docx:   "docx",
		mime.PDF:    "pdf",
		"image/png": "image",
		mime.SVG:    "xml",
		mime.TSV:    "csv",
		mime.Gzip:   "archive",
	}
	for mt, want := range tests {
		e, err := reg.Resolve(mt)
		if err != nil {
			t.Errorf("Resolve(%s): %v", mt, err)
			continue
		}
		if e.Name() != want {
			t.Errorf("Resolve(%s) = %s, want %s", mt, e.Name(), want)
		}
	}
}
