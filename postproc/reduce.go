package postproc

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/plugin"
)

type reductionLevel int

const (
	levelOff reductionLevel = iota
	levelLight
	levelModerate
	levelAggressive
	levelMaximum
)

func parseLevel(mode string) reductionLevel {
	switch strings.ToLower(mode) {
	case "light":
		return levelLight
	case "moderate":
		return levelModerate
	case "aggressive":
		return levelAggressive
	case "maximum":
		return levelMaximum
	}
	return levelOff
}

// TokenReducer shrinks content for LLM consumption. Each level includes the
// previous one:
//
//	light       collapse whitespace and repeated punctuation
//	moderate    drop stopwords
//	aggressive  drop repeated lines
//	maximum     drop tokens shorter than three runes
//
// With preserve_important_words, capitalised words, acronyms and tokens
// containing digits are never dropped.
type TokenReducer struct{}

func (TokenReducer) Name() string        { return "token_reduction" }
func (TokenReducer) Priority() int       { return 0 }
func (TokenReducer) Stage() plugin.Stage { return plugin.StageMiddle }

func (TokenReducer) ShouldProcess(_ *document.Result, cfg *config.ExtractionConfig) bool {
	return cfg != nil && cfg.TokenReduction != nil && parseLevel(cfg.TokenReduction.Mode) != levelOff
}

func (TokenReducer) Process(ctx context.Context, res *document.Result, cfg *config.ExtractionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lang := ""
	if len(res.DetectedLanguages) > 0 {
		lang = res.DetectedLanguages[0].Code
	} else if cfg.Keywords != nil {
		lang = cfg.Keywords.Language
	}

	before := len(strings.Fields(res.Content))
	res.Content = Reduce(res.Content, cfg.TokenReduction.Mode, cfg.TokenReduction.PreserveImportantWords, lang)
	setMeta(res, "original_token_count", before)
	setMeta(res, "reduced_token_count", len(strings.Fields(res.Content)))
	return nil
}

// Reduce applies a token_reduction mode to text. lang selects the stopword
// list (ISO 639-1 or 639-3, English by default).
func Reduce(text, mode string, preserve bool, lang string) string {
	level := parseLevel(mode)
	if level == levelOff {
		return text
	}
	stop := stopwordsFor(lang)
	seen := map[string]bool{}

	var out []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		var kept []string
		for _, tok := range strings.Fields(line) {
			tok = squeezePunct(tok)
			if level >= levelModerate && !(preserve && important(tok)) {
				word := strings.ToLower(strings.TrimFunc(tok, unicode.IsPunct))
				if stop[word] {
					continue
				}
				if level >= levelMaximum && utf8.RuneCountInString(word) < 3 && !hasDigit(word) {
					continue
				}
			}
			kept = append(kept, tok)
		}
		l := strings.Join(kept, " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		if level >= levelAggressive {
			key := strings.ToLower(l)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// squeezePunct collapses runs of the same punctuation rune ("!!!" → "!").
func squeezePunct(tok string) string {
	var sb strings.Builder
	var prev rune
	for i, r := range tok {
		if i > 0 && r == prev && unicode.IsPunct(r) {
			continue
		}
		sb.WriteRune(r)
		prev = r
	}
	return sb.String()
}

func important(tok string) bool {
	if hasDigit(tok) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(tok)
	return unicode.IsUpper(r)
}

func hasDigit(s string) bool {
	return strings.ContainsFunc(s, unicode.IsDigit)
}
