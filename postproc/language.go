package postproc

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// minSegmentRunes is the shortest paragraph considered when detecting
// several languages.
const minSegmentRunes = 40

// LanguageDetector fills DetectedLanguages with ISO 639-3 codes when the
// detection confidence reaches language_detection.min_confidence.
type LanguageDetector struct {
	Logger *slog.Logger
}

func (*LanguageDetector) Name() string        { return "language_detection" }
func (*LanguageDetector) Priority() int       { return 10 }
func (*LanguageDetector) Stage() plugin.Stage { return plugin.StageEarly }

func (*LanguageDetector) ShouldProcess(_ *document.Result, cfg *config.ExtractionConfig) bool {
	return cfg != nil && cfg.LanguageDetection != nil && cfg.LanguageDetection.Enabled
}

func (d *LanguageDetector) Process(ctx context.Context, res *document.Result, cfg *config.ExtractionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ld := cfg.LanguageDetection
	if strings.TrimSpace(res.Content) == "" {
		return nil
	}

	var langs []document.DetectedLanguage
	if ld.DetectMultiple {
		langs = detectMultiple(res.Content, ld.MinConfidence)
	} else if l, ok := detectOne(res.Content, ld.MinConfidence); ok {
		langs = []document.DetectedLanguage{l}
	}
	if len(langs) == 0 {
		if d.Logger != nil {
			d.Logger.Debug("postproc: language below threshold", "min_confidence", ld.MinConfidence)
		}
		return nil
	}
	res.DetectedLanguages = langs
	setMeta(res, document.MetaLanguage, langs[0].Code)
	return nil
}

func detectOne(text string, minConfidence float64) (document.DetectedLanguage, bool) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6393()
	if code == "" || info.Confidence < minConfidence {
		return document.DetectedLanguage{}, false
	}
	return document.DetectedLanguage{Code: code, Confidence: info.Confidence}, true
}

// detectMultiple detects each paragraph and ranks languages by the amount of
// text they cover. A language's confidence is the weighted mean over its
// paragraphs.
func detectMultiple(text string, minConfidence float64) []document.DetectedLanguage {
	type tally struct {
		weight, conf float64
	}
	totals := map[string]*tally{}
	for _, seg := range strings.Split(text, "\n\n") {
		n := utf8.RuneCountInString(strings.TrimSpace(seg))
		if n < minSegmentRunes {
			continue
		}
		info := whatlanggo.Detect(seg)
		code := info.Lang.Iso6393()
		if code == "" {
			continue
		}
		t := totals[code]
		if t == nil {
			t = &tally{}
			totals[code] = t
		}
		t.weight += float64(n)
		t.conf += float64(n) * info.Confidence
	}
	if len(totals) == 0 {
		if l, ok := detectOne(text, minConfidence); ok {
			return []document.DetectedLanguage{l}
		}
		return nil
	}

	var out []document.DetectedLanguage
	weights := map[string]float64{}
	for code, t := range totals {
		conf := t.conf / t.weight
		if conf < minConfidence {
			continue
		}
		weights[code] = t.weight
		out = append(out, document.DetectedLanguage{Code: code, Confidence: conf})
	}
	slices.SortFunc(out, func(a, b document.DetectedLanguage) int {
		if c := cmp.Compare(weights[b.Code], weights[a.Code]); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return out
}
