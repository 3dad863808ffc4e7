package docpipe

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
)

// format renders content in the configured output format. It runs after
// post-processing, chunking and final validation, which all see plain text.
func (r *run) format() error {
	text := r.res.Content
	r.plain = text

	switch r.cfg.OutputFormat {
	case config.OutputMarkdown:
		md, err := r.markdown(text)
		if err != nil {
			return err
		}
		r.res.Content = md
	case config.OutputDjot:
		md, err := r.markdown(text)
		if err != nil {
			return err
		}
		r.res.Content = markdownToDjot(md)
	case config.OutputHTML:
		r.res.Content = r.html(text)
	default:
		r.res.Content = text
	}
	if r.cfg.OutputFormat != "" {
		r.res.Metadata["output_format"] = string(r.cfg.OutputFormat)
	}
	return nil
}

// structurePages computes the element view and, when asked, rewrites the
// content with page markers so later stages see them.
func (r *run) structurePages() {
	r.elements = r.structure()
	if pc := r.cfg.Pages; pc != nil && pc.InsertPageMarkers && len(r.res.Pages) > 0 {
		r.res.Content = withPageMarkers(r.res.Pages, pc.MarkerFormat)
		r.markers = true
	}
}

// withPageMarkers joins page contents, each preceded by its marker.
func withPageMarkers(pages []document.Page, marker string) string {
	if marker == "" {
		marker = config.DefaultPageMarker
	}
	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(strings.ReplaceAll(marker, "{page_num}", strconv.Itoa(p.PageNumber)))
		sb.WriteString(p.Content)
	}
	return strings.TrimSpace(sb.String())
}

// renderFromSource reports whether markup output is rendered from the
// extractor's HTML or structure rather than from the plain content.
func (r *run) renderFromSource() bool {
	return !r.markers && !r.ocrApplied && !r.reduced()
}

// reduced reports whether token reduction rewrote the content, in which
// case markup is rendered from that content.
func (r *run) reduced() bool {
	tr := r.cfg.TokenReduction
	return tr != nil && tr.Mode != "" && tr.Mode != "off"
}

func (r *run) markdown(plain string) (string, error) {
	if r.renderFromSource() && r.outcome.SourceHTML != "" {
		md, err := htmlToMarkdown(r.outcome.SourceHTML)
		if err != nil {
			r.warn("markdown: " + err.Error())
			return plain, nil
		}
		return md, nil
	}
	if r.renderFromSource() && len(r.elements) > 0 {
		return elementsToMarkdown(r.elements), nil
	}
	return plain, nil
}

func htmlToMarkdown(src string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(src)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

func elementsToMarkdown(els []document.Element) string {
	var blocks []string
	for _, e := range els {
		text := strings.TrimSpace(e.Text)
		if text == "" && e.Type != document.ElementPageBreak {
			continue
		}
		switch e.Type {
		case document.ElementTitle:
			blocks = append(blocks, "# "+text)
		case document.ElementHeading:
			level := min(max(e.Level, 1), 6)
			blocks = append(blocks, strings.Repeat("#", level)+" "+text)
		case document.ElementListItem:
			blocks = append(blocks, "- "+text)
		case document.ElementPageBreak:
			blocks = append(blocks, "---")
		default:
			blocks = append(blocks, text)
		}
	}
	return joinBlocks(blocks)
}

// joinBlocks separates blocks with blank lines, keeping consecutive list
// items together.
func joinBlocks(blocks []string) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			if strings.HasPrefix(b, "- ") && strings.HasPrefix(blocks[i-1], "- ") {
				sb.WriteByte('\n')
			} else {
				sb.WriteString("\n\n")
			}
		}
		sb.WriteString(b)
	}
	return sb.String()
}

var (
	mdStrong = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	mdEm     = regexp.MustCompile(`\*([^\s*][^*\n]*?)\*`)
)

// markdownToDjot rewrites the inline syntax that differs between the two:
// emphasis becomes _x_ and strong becomes *x*.
func markdownToDjot(md string) string {
	const strongOpen, strongClose = "\x00S", "\x00E"
	md = mdStrong.ReplaceAllString(md, strongOpen+"$1"+strongClose)
	md = mdEm.ReplaceAllString(md, "_${1}_")
	md = strings.ReplaceAll(md, strongOpen, "*")
	return strings.ReplaceAll(md, strongClose, "*")
}

var ugcPolicy = bluemonday.UGCPolicy()

func (r *run) html(plain string) string {
	if r.renderFromSource() && r.outcome.SourceHTML != "" {
		return strings.TrimSpace(ugcPolicy.Sanitize(r.outcome.SourceHTML))
	}
	if r.renderFromSource() && len(r.elements) > 0 {
		return elementsToHTML(r.elements)
	}
	return "<pre>" + html.EscapeString(plain) + "</pre>"
}

func elementsToHTML(els []document.Element) string {
	var sb strings.Builder
	inList := false
	for _, e := range els {
		if e.Type != document.ElementListItem && inList {
			sb.WriteString("</ul>\n")
			inList = false
		}
		text := html.EscapeString(strings.TrimSpace(e.Text))
		switch e.Type {
		case document.ElementTitle:
			sb.WriteString("<h1>" + text + "</h1>\n")
		case document.ElementHeading:
			tag := "h" + strconv.Itoa(min(max(e.Level, 1), 6))
			sb.WriteString("<" + tag + ">" + text + "</" + tag + ">\n")
		case document.ElementListItem:
			if !inList {
				sb.WriteString("<ul>\n")
				inList = true
			}
			sb.WriteString("<li>" + text + "</li>\n")
		case document.ElementTable:
			sb.WriteString("<pre>" + text + "</pre>\n")
		case document.ElementPageBreak:
			sb.WriteString("<hr>\n")
		default:
			if text != "" {
				sb.WriteString("<p>" + text + "</p>\n")
			}
		}
	}
	if inList {
		sb.WriteString("</ul>\n")
	}
	return strings.TrimSpace(sb.String())
}
