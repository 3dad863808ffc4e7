package postproc

import (
	"context"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/extractors"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// Quality normalises content to NFC, strips garbage runes and trailing
// blanks, collapses runs of blank lines and records a quality_score in
// [0,1]. It runs only when enable_quality_processing is set.
type Quality struct{}

func (Quality) Name() string        { return "quality" }
func (Quality) Priority() int       { return 0 }
func (Quality) Stage() plugin.Stage { return plugin.StageEarly }

func (Quality) ShouldProcess(_ *document.Result, cfg *config.ExtractionConfig) bool {
	return cfg != nil && cfg.EnableQualityProcessing
}

func (Quality) Process(ctx context.Context, res *document.Result, _ *config.ExtractionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if res.Content == "" {
		return nil
	}
	res.Content = cleanText(norm.NFC.String(res.Content))
	setMeta(res, document.MetaQualityScore, Score(res.Content))
	return nil
}

// cleanText drops control and private-use runes, trims trailing whitespace
// on every line and keeps at most one blank line in a row. Leading
// indentation is preserved.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var sb strings.Builder
	sb.Grow(len(text))
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRightFunc(strings.Map(func(r rune) rune {
			switch {
			case r == '\t':
				return r
			case r == unicode.ReplacementChar, r >= 0xE000 && r <= 0xF8FF, unicode.IsControl(r):
				return -1
			}
			return r
		}, line), unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}

// Score rates text between 0 and 1 from its printable and word-like ratios.
// Empty text scores 0.
func Score(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	s := 0.6*extractors.PrintableRatio(text) + 0.4*extractors.WordlikeRatio(text)
	return math.Round(s*1000) / 1000
}
