package extractors

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
)

// PDF extracts page text, font-size blocks, per-page text coverage and,
// when requested, embedded images using pdfcpu.
type PDF struct {
	Logger *slog.Logger
}

func (*PDF) Name() string                 { return "pdf" }
func (*PDF) SupportedMIMETypes() []string { return []string{mime.PDF} }

func (p *PDF) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pctx, err := readPDF(data, cfg)
	if err != nil {
		return nil, err
	}

	wantImages := cfg != nil && (cfg.ExtractImages || (cfg.PDF != nil && cfg.PDF.ExtractImages) || cfg.ForceOCR || cfg.OCR != nil)

	var (
		pages     []document.Page
		blocks    []document.Block
		images    []document.Image
		texts     []string
		hasImages bool
	)
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scan := scanPage(pctx, pageNr)
		pageImages := pctx.Optimize != nil && len(pdfcpu.ImageObjNrs(pctx, pageNr)) > 0
		hasImages = hasImages || pageImages

		page := document.Page{PageNumber: pageNr, Content: scan.text, Coverage: scan.coverage(pageImages)}
		if wantImages && pageImages {
			imgs := pageImagesOf(pctx, pageNr, len(images), logger)
			page.Images = imgs
			images = append(images, imgs...)
		}
		pages = append(pages, page)
		blocks = append(blocks, scan.blocks...)
		if scan.text != "" {
			texts = append(texts, scan.text)
		}
	}
	if !hasImages {
		hasImages = detectImageStreams(pctx)
	}

	content := strings.Join(texts, "\n\n")
	meta := document.Metadata{
		document.MetaPageCount: pctx.PageCount,
		"printable_ratio":      PrintableRatio(content),
		"wordlike_ratio":       WordlikeRatio(content),
		"has_image_streams":    hasImages,
		"visual_ref_count":     VisualRefs(content),
	}
	if cfg == nil || cfg.PDF == nil || cfg.PDF.ExtractMetadata {
		pdfInfo(pctx, meta)
	}
	if _, ok := meta[document.MetaTitle]; !ok {
		if t := firstLine(content); t != "" {
			meta[document.MetaTitle] = t
		}
	}

	var sections []document.Element
	for _, pg := range pages {
		if pg.Content != "" {
			sections = append(sections, document.Element{Type: document.ElementParagraph, Text: pg.Content, PageNumber: pg.PageNumber})
		}
	}

	return &document.Outcome{
		Content:   content,
		MIMEType:  mimeType,
		Metadata:  meta,
		Images:    images,
		Pages:     pages,
		Blocks:    blocks,
		Sections:  sections,
		ImageOnly: strings.TrimSpace(content) == "" && hasImages,
	}, nil
}

// readPDF opens the document, trying the configured passwords in order when
// it is encrypted.
func readPDF(data []byte, cfg *config.ExtractionConfig) (*model.Context, error) {
	passwords := []string{""}
	if cfg != nil && cfg.PDF != nil {
		passwords = append(passwords, cfg.PDF.Passwords...)
	}

	var lastErr error
	for _, pw := range passwords {
		conf := model.NewDefaultConfiguration()
		conf.UserPW = pw
		pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
		if err == nil {
			return pctx, nil
		}
		lastErr = err
		if !isPasswordError(err) {
			break
		}
	}
	if isPasswordError(lastErr) {
		return nil, kerr.Parsing("pdf: encrypted document, no valid password: %v", lastErr)
	}
	return nil, kerr.Parsing("pdf: %v", lastErr)
}

func isPasswordError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

// pdfInfo copies the document information dictionary into meta.
func pdfInfo(pctx *model.Context, meta document.Metadata) {
	if t := strings.TrimSpace(pctx.Title); t != "" {
		meta[document.MetaTitle] = t
	}
	if a := strings.TrimSpace(pctx.Author); a != "" {
		meta["authors"] = []string{a}
	}
	for key, v := range map[string]string{
		"subject":       pctx.Subject,
		"creator":       pctx.Creator,
		"producer":      pctx.Producer,
		"keywords_info": pctx.Keywords,
		"created_at":    pctx.CreationDate,
		"modified_at":   pctx.ModDate,
	} {
		if v = strings.TrimSpace(v); v != "" {
			meta[key] = v
		}
	}
}

// pageImagesOf extracts the images of one page. Failures are logged and
// skipped: an unreadable image never fails the document.
func pageImagesOf(pctx *model.Context, pageNr, offset int, logger *slog.Logger) []document.Image {
	imgs, err := pdfcpu.ExtractPageImages(pctx, pageNr, false)
	if err != nil {
		logger.Debug("pdf: page images", "page", pageNr, "error", err)
		return nil
	}
	var out []document.Image
	for _, im := range imgs {
		if im.Reader == nil {
			continue
		}
		raw, err := io.ReadAll(im)
		if err != nil || len(raw) == 0 {
			continue
		}
		w, h, page := im.Width, im.Height, pageNr
		out = append(out, document.Image{
			Data:       raw,
			Format:     strings.TrimPrefix(im.FileType, "."),
			Width:      &w,
			Height:     &h,
			ImageIndex: offset + len(out),
			PageNumber: &page,
		})
	}
	return out
}

// detectImageStreams checks the cross-reference table for image XObjects.
func detectImageStreams(pctx *model.Context) bool {
	for _, entry := range pctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// pageScan is the text of one page together with the statistics the OCR
// coverage policy and heading detection need.
type pageScan struct {
	text       string
	blocks     []document.Block
	shows      int
	positioned int
}

// coverage is the fraction of text-showing operators that carried font and
// position state. A page without text scores 0 when it holds images and -1
// when there is nothing to measure.
func (s pageScan) coverage(hasImages bool) float64 {
	if s.shows == 0 {
		if hasImages {
			return 0
		}
		return -1
	}
	return float64(s.positioned) / float64(s.shows)
}

func scanPage(pctx *model.Context, pageNr int) pageScan {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil || r == nil {
		return pageScan{}
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return pageScan{}
	}
	s := scanContent(data)
	for i := range s.blocks {
		s.blocks[i].Page = pageNr
	}
	return s
}

// scanContent interprets the text operators of a content stream.
func scanContent(data []byte) pageScan {
	var (
		scan     pageScan
		sb       strings.Builder
		operands []pdfToken
		inText   bool
		hasFont  bool
		hasPos   bool
		fontSize float64
		scale    = 1.0
		x, y     float64
	)

	show := func(text string) {
		scan.shows++
		if hasFont && hasPos {
			scan.positioned++
		}
		if text == "" {
			return
		}
		sb.WriteString(text)
		size := fontSize * scale
		if t := strings.TrimSpace(text); t != "" && size > 0 {
			width := size * 0.5 * float64(len([]rune(t)))
			scan.blocks = append(scan.blocks, document.Block{
				Text:     t,
				FontSize: size,
				BBox:     &document.BBox{Left: x, Top: y + size, Right: x + width, Bottom: y},
			})
		}
	}
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	move := func(tx, ty float64) {
		hasPos = true
		x += tx
		y += ty
		switch {
		case ty != 0:
			newline()
		case tx != 0 && sb.Len() > 0:
			sb.WriteByte(' ')
		}
	}

	lex := pdfLexer{data: data}
	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}
		switch tok.text {
		case "BT":
			inText, hasFont, hasPos = true, fontSize > 0, false
			x, y, scale = 0, 0, 1
		case "ET":
			inText = false
			newline()
		case "Tf":
			if n := len(operands); n >= 1 {
				fontSize = operands[n-1].num
				hasFont = fontSize > 0
			}
		case "Td", "TD":
			if n := len(operands); n >= 2 {
				move(operands[n-2].num, operands[n-1].num)
			}
		case "Tm":
			if n := len(operands); n >= 6 {
				hasPos = true
				ny := operands[n-1].num
				if ny != y && sb.Len() > 0 {
					newline()
				}
				x, y = operands[n-2].num, ny
				if a := operands[n-6].num; a > 0 {
					scale = a
				}
			}
		case "T*":
			hasPos = true
			newline()
		case "Tj":
			if inText && len(operands) > 0 {
				show(operands[len(operands)-1].text)
			}
		case "'", "\"":
			if inText && len(operands) > 0 {
				newline()
				show(operands[len(operands)-1].text)
			}
		case "TJ":
			if inText && len(operands) > 0 {
				show(operands[len(operands)-1].text)
			}
		}
		operands = operands[:0]
	}
	scan.text = cleanPDFText(sb.String())
	return scan
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokArray
	tokName
	tokOperator
)

type pdfToken struct {
	kind tokenKind
	text string
	num  float64
}

// pdfLexer tokenizes a content stream into operands and operators. Arrays
// are flattened to the concatenation of their strings, with a space for
// large negative kerning adjustments.
type pdfLexer struct {
	data []byte
	pos  int
}

func (l *pdfLexer) next() (pdfToken, bool) {
	l.skipSpace()
	if l.pos >= len(l.data) {
		return pdfToken{}, false
	}
	c := l.data[l.pos]
	switch {
	case c == '(':
		return pdfToken{kind: tokString, text: decodePDFString(l.literal())}, true
	case c == '<' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '<':
		l.skipDict()
		return l.next()
	case c == '<':
		return pdfToken{kind: tokString, text: l.hex()}, true
	case c == '[':
		return l.array(), true
	case c == '/':
		start := l.pos
		l.pos++
		for l.pos < len(l.data) && !isPDFDelim(l.data[l.pos]) {
			l.pos++
		}
		return pdfToken{kind: tokName, text: string(l.data[start:l.pos])}, true
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		start := l.pos
		l.pos++
		for l.pos < len(l.data) && (l.data[l.pos] == '.' || (l.data[l.pos] >= '0' && l.data[l.pos] <= '9')) {
			l.pos++
		}
		return pdfToken{kind: tokNumber, num: parsePDFNumber(l.data[start:l.pos])}, true
	case c == ']' || c == ')' || c == '>' || c == '{' || c == '}':
		l.pos++
		return l.next()
	}
	start := l.pos
	for l.pos < len(l.data) && !isPDFDelim(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		l.pos++
	}
	op := string(l.data[start:l.pos])
	if op == "BI" {
		l.skipInlineImage()
	}
	return pdfToken{kind: tokOperator, text: op}, true
}

func (l *pdfLexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		if c != ' ' && c != '\n' && c != '\r' && c != '\t' && c != '\f' && c != 0 {
			return
		}
		l.pos++
	}
}

// literal returns the raw bytes of a balanced (...) string, escapes intact.
func (l *pdfLexer) literal() []byte {
	l.pos++
	start, depth := l.pos, 1
	for l.pos < len(l.data) {
		switch l.data[l.pos] {
		case '\\':
			l.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				raw := l.data[start:l.pos]
				l.pos++
				return raw
			}
		}
		l.pos++
	}
	return l.data[start:]
}

func (l *pdfLexer) hex() string {
	l.pos++
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if c := l.data[l.pos]; isHexDigit(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		out = append(out, hexVal(digits[i])<<4|hexVal(digits[i+1]))
	}
	// Two-byte glyph codes are common in CID fonts; keep only printable
	// single-byte text.
	var sb strings.Builder
	for _, b := range out {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

func (l *pdfLexer) array() pdfToken {
	l.pos++
	var sb strings.Builder
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			break
		}
		if l.data[l.pos] == ']' {
			l.pos++
			break
		}
		tok, ok := l.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokString:
			sb.WriteString(tok.text)
		case tokNumber:
			if tok.num < -200 {
				sb.WriteByte(' ')
			}
		}
	}
	return pdfToken{kind: tokArray, text: sb.String()}
}

func (l *pdfLexer) skipDict() {
	depth := 0
	for l.pos+1 < len(l.data) {
		switch {
		case l.data[l.pos] == '<' && l.data[l.pos+1] == '<':
			depth++
			l.pos += 2
		case l.data[l.pos] == '>' && l.data[l.pos+1] == '>':
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
		default:
			l.pos++
		}
	}
	l.pos = len(l.data)
}

// skipInlineImage jumps past the binary payload between ID and EI.
func (l *pdfLexer) skipInlineImage() {
	id := bytes.Index(l.data[l.pos:], []byte("ID"))
	if id < 0 {
		l.pos = len(l.data)
		return
	}
	l.pos += id + 2
	ei := bytes.Index(l.data[l.pos:], []byte("EI"))
	if ei < 0 {
		l.pos = len(l.data)
		return
	}
	l.pos += ei + 2
}

func isPDFDelim(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func parsePDFNumber(b []byte) float64 {
	neg := false
	i := 0
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		neg = b[i] == '-'
		i++
	}
	var v, scale float64 = 0, 0
	for ; i < len(b); i++ {
		switch c := b[i]; {
		case c == '.':
			if scale == 0 {
				scale = 1
			}
		case c >= '0' && c <= '9':
			if scale > 0 {
				scale /= 10
				v += float64(c-'0') * scale
			} else {
				v = v*10 + float64(c-'0')
			}
		}
	}
	if neg {
		return -v
	}
	return v
}

// decodePDFString handles the escape sequences of literal strings.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		case '\n':
		case '\r':
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanPDFText collapses runs of spaces inside lines and drops unprintable
// runes while keeping line breaks.
func cleanPDFText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if l := strings.TrimSpace(sb.String()); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
